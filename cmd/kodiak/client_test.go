// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Kodiak/pkg/ux"
	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

// mockHTTPClient implements HTTPClient for transport-level tests.
type mockHTTPClient struct {
	DoFunc func(*http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

// jsonHandler asserts the request shape and replies with canned JSON.
func jsonHandler(t *testing.T, method, path, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method || r.URL.Path != path {
			t.Errorf("unexpected request: %s %s, want %s %s", r.Method, r.URL.Path, method, path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

// =============================================================================
// HTTP Method Tests
// =============================================================================

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, http.MethodGet, "/api/v1/health",
		`{"status":"ok","timestamp":"2025-06-01T12:00:00Z","version":"1.4.0"}`))
	defer srv.Close()

	health, err := NewClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Status = %q, want %q", health.Status, "ok")
	}
	if health.Version != "1.4.0" {
		t.Errorf("Version = %q, want %q", health.Version, "1.4.0")
	}
}

func TestClient_Ingest_SendsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/repository/ingest" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req datatypes.RepositoryIngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.RepoURL != "https://github.com/acme/widgets" {
			t.Errorf("RepoURL = %q", req.RepoURL)
		}
		if req.Branch != "develop" {
			t.Errorf("Branch = %q", req.Branch)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"repo_id":"acme_widgets","status":"success","message":"ingested",
			"files_processed":42,"functions_extracted":310,"ingestion_time":12.5}`)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Ingest(context.Background(), "https://github.com/acme/widgets", "develop")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if resp.RepoID != "acme_widgets" {
		t.Errorf("RepoID = %q", resp.RepoID)
	}
	if resp.FilesProcessed != 42 || resp.FunctionsExtracted != 310 {
		t.Errorf("counts = %d files, %d functions", resp.FilesProcessed, resp.FunctionsExtracted)
	}
}

func TestClient_Query_SendsFlowFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Question != "how does auth work" || req.RepoID != "acme_widgets" {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.IncludeExecutionFlow == nil || *req.IncludeExecutionFlow {
			t.Error("expected include_execution_flow explicitly false")
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"answer":"Tokens are validated in ParseToken.",
			"citations":[{"file_path":"pkg/auth/token.go","start_line":10,"end_line":42,"function_name":"ParseToken","score":0.91}],
			"confidence":"high"}`)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Query(context.Background(), "how does auth work", "acme_widgets", false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(resp.Answer, "ParseToken") {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].FunctionName != "ParseToken" {
		t.Errorf("Citations = %+v", resp.Citations)
	}
	if resp.Confidence != "high" {
		t.Errorf("Confidence = %q", resp.Confidence)
	}
}

func TestClient_AnalyzeImpact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.ImpactAnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Identifier != "ParseToken" {
			t.Errorf("Identifier = %q", req.Identifier)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"modified_code":{"identifier":"ParseToken","file_path":"pkg/auth/token.go"},
			"direct_impact":[{"identifier":"ValidateRequest","file_path":"pkg/auth/middleware.go"}],
			"indirect_impact":[],"risk_level":"low","summary":"1 caller affected"}`)
	}))
	defer srv.Close()

	report, err := NewClient(srv.URL).AnalyzeImpact(context.Background(), "ParseToken", "acme_widgets")
	if err != nil {
		t.Fatalf("AnalyzeImpact: %v", err)
	}
	if report.RiskLevel != datatypes.RiskLow {
		t.Errorf("RiskLevel = %q", report.RiskLevel)
	}
	if len(report.DirectImpact) != 1 {
		t.Errorf("DirectImpact = %+v", report.DirectImpact)
	}
}

func TestClient_AnalyzeDiffImpact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.DiffImpactRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !strings.Contains(req.Diff, "func ParseToken") {
			t.Errorf("Diff = %q", req.Diff)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"reports":[{"modified_code":{"identifier":"ParseToken","file_path":"pkg/auth/token.go"},
			"direct_impact":[],"indirect_impact":[],"risk_level":"low"}],
			"risk_level":"low","summary":"1 unit touched"}`)
	}))
	defer srv.Close()

	diff := "--- a/pkg/auth/token.go\n+++ b/pkg/auth/token.go\n@@ -10,3 +10,4 @@\n func ParseToken() {}\n"
	resp, err := NewClient(srv.URL).AnalyzeDiffImpact(context.Background(), diff, "acme_widgets")
	if err != nil {
		t.Fatalf("AnalyzeDiffImpact: %v", err)
	}
	if len(resp.Reports) != 1 {
		t.Errorf("Reports = %+v", resp.Reports)
	}
}

func TestClient_AnalyzeFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.FlowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.EntryPoint != "main" || req.MaxDepth != 3 {
			t.Errorf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"entry_point":"main","steps":[
			{"step":1,"function_name":"main","file_path":"cmd/server/main.go","depth":0},
			{"step":2,"function_name":"run","file_path":"cmd/server/main.go","depth":1}]}`)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).AnalyzeFlow(context.Background(), "main", "acme_widgets", 3)
	if err != nil {
		t.Fatalf("AnalyzeFlow: %v", err)
	}
	if len(resp.Steps) != 2 {
		t.Fatalf("Steps = %+v", resp.Steps)
	}
	if resp.Steps[1].FunctionName != "run" || resp.Steps[1].Depth != 1 {
		t.Errorf("step 2 = %+v", resp.Steps[1])
	}
}

func TestClient_ListRepositories(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, http.MethodGet, "/api/v1/repository",
		`{"repositories":[{"id":"acme_widgets","url":"https://github.com/acme/widgets","branch":"main",
			"files_processed":42,"functions_extracted":310,
			"ingested_at":"2025-06-01T12:00:00Z","updated_at":"2025-06-01T12:00:00Z"}],"count":1}`))
	defer srv.Close()

	list, err := NewClient(srv.URL).ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if list.Count != 1 || len(list.Repositories) != 1 {
		t.Fatalf("list = %+v", list)
	}
	if list.Repositories[0].ID != "acme_widgets" {
		t.Errorf("ID = %q", list.Repositories[0].ID)
	}
}

func TestClient_DeleteRepository(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, http.MethodDelete, "/api/v1/repository/acme_widgets",
		`{"status":"success","deleted_repo_id":"acme_widgets","records_deleted":352,"vectors_deleted":310}`))
	defer srv.Close()

	summary, err := NewClient(srv.URL).DeleteRepository(context.Background(), "acme_widgets")
	if err != nil {
		t.Fatalf("DeleteRepository: %v", err)
	}
	if summary.DeletedRepoID != "acme_widgets" {
		t.Errorf("DeletedRepoID = %q", summary.DeletedRepoID)
	}
	if summary.RecordsDeleted != 352 || summary.VectorsDeleted != 310 {
		t.Errorf("counts = %+v", summary)
	}
}

func TestClient_IndexStats(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, http.MethodGet, "/api/v1/index/stats",
		`{"total_vectors":310,"dimension":1536,"num_repositories":1,"vectors_per_repo":{"acme_widgets":310}}`))
	defer srv.Close()

	stats, err := NewClient(srv.URL).IndexStats(context.Background())
	if err != nil {
		t.Fatalf("IndexStats: %v", err)
	}
	if stats.TotalVectors != 310 || stats.Dimension != 1536 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.VectorsPerRepo["acme_widgets"] != 310 {
		t.Errorf("VectorsPerRepo = %+v", stats.VectorsPerRepo)
	}
}

// =============================================================================
// Error Mapping Tests
// =============================================================================

func TestClient_ServerErrorMessageSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"repository acme_widgets not found"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).IndexStats(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "repository acme_widgets not found") {
		t.Errorf("error = %v", err)
	}
}

func TestClient_ServerErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %v", err)
	}
}

func TestClient_TransportErrorWrapped(t *testing.T) {
	client := NewClientWithHTTP("http://localhost:9", &mockHTTPClient{
		DoFunc: func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	})

	_, err := client.Health(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	client := NewClient("http://localhost:8000/")
	if client.baseURL != "http://localhost:8000" {
		t.Errorf("baseURL = %q", client.baseURL)
	}
}

// =============================================================================
// Server URL Resolution Tests
// =============================================================================

func TestResolveServerURL_Precedence(t *testing.T) {
	origServer, origConfig := serverURL, configPath
	t.Cleanup(func() { serverURL, configPath = origServer, origConfig })
	t.Setenv(serverURLEnv, "")
	configPath = ""

	serverURL = "http://flagged:1234"
	if got := resolveServerURL(); got != "http://flagged:1234" {
		t.Errorf("flag: got %q", got)
	}

	serverURL = ""
	t.Setenv(serverURLEnv, "http://from-env:4321")
	if got := resolveServerURL(); got != "http://from-env:4321" {
		t.Errorf("env: got %q", got)
	}

	t.Setenv(serverURLEnv, "")
	if got := resolveServerURL(); got != defaultServerURL {
		t.Errorf("default: got %q", got)
	}
}

func TestResolveServerURL_ConfigFileMapsWildcardHost(t *testing.T) {
	origServer, origConfig := serverURL, configPath
	t.Cleanup(func() { serverURL, configPath = origServer, origConfig })
	t.Setenv(serverURLEnv, "")
	serverURL = ""

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "server:\n  host: 0.0.0.0\n  port: 9000\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	configPath = path

	if got := resolveServerURL(); got != "http://localhost:9000" {
		t.Errorf("got %q, want http://localhost:9000", got)
	}
}

// =============================================================================
// Websocket Streaming Tests
// =============================================================================

func TestStreamConn_Ask_StreamsTokensAndFinal(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ws" {
			t.Errorf("dial path = %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var q datatypes.WSQuery
		if err := conn.ReadJSON(&q); err != nil {
			t.Errorf("read query: %v", err)
			return
		}
		if q.Question != "where is main" || q.RepoID != "acme_widgets" {
			t.Errorf("query = %+v", q)
		}

		conn.WriteJSON(map[string]any{"type": "token", "token": "In "})
		conn.WriteJSON(map[string]any{"type": "token", "token": "cmd/server."})
		conn.WriteJSON(map[string]any{
			"type":       "final",
			"answer":     "In cmd/server.",
			"citations":  []map[string]any{{"file_path": "cmd/server/main.go", "start_line": 1, "end_line": 20}},
			"confidence": "high",
		})
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL).DialStream(context.Background(), "acme_widgets")
	if err != nil {
		t.Fatalf("DialStream: %v", err)
	}
	defer stream.Close()

	renderer := ux.NewBufferStreamRenderer()
	result, err := stream.Ask(context.Background(), "where is main", renderer)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if result.Answer != "In cmd/server." {
		t.Errorf("Answer = %q", result.Answer)
	}
	if len(result.Citations) != 1 {
		t.Errorf("Citations = %+v", result.Citations)
	}
	if events := renderer.Events(); len(events) != 3 {
		t.Errorf("expected 3 events, got %d", len(events))
	}
}

func TestStreamConn_Ask_ServerErrorKeepsConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for i := 0; ; i++ {
			var q datatypes.WSQuery
			if err := conn.ReadJSON(&q); err != nil {
				return
			}
			if i == 0 {
				conn.WriteJSON(map[string]any{"type": "error", "error": "repository missing"})
				continue
			}
			conn.WriteJSON(map[string]any{"type": "final", "answer": "recovered", "confidence": "low"})
		}
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL).DialStream(context.Background(), "missing_repo")
	if err != nil {
		t.Fatalf("DialStream: %v", err)
	}
	defer stream.Close()

	_, err = stream.Ask(context.Background(), "first", ux.NewBufferStreamRenderer())
	if !errors.Is(err, ErrStreamFailed) {
		t.Fatalf("expected ErrStreamFailed, got %v", err)
	}

	renderer := ux.NewBufferStreamRenderer()
	result, err := stream.Ask(context.Background(), "second", renderer)
	if err != nil {
		t.Fatalf("second Ask after server error: %v", err)
	}
	if result.Answer != "recovered" {
		t.Errorf("Answer = %q", result.Answer)
	}
}

func TestDialStream_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewClient(srv.URL).DialStream(context.Background(), "acme_widgets")
	if err == nil {
		t.Fatal("expected handshake error")
	}
}
