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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Kodiak/pkg/ux"
	"github.com/AleutianAI/Kodiak/services/kodiak/config"
	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

const (
	defaultServerURL = "http://localhost:8000"
	serverURLEnv     = "KODIAK_SERVER"
)

// ErrStreamFailed marks a per-question failure the server reported on an
// otherwise healthy stream. The renderer has already displayed it, and
// the connection stays usable for the next question.
var ErrStreamFailed = errors.New("stream query failed")

// HTTPClient abstracts the HTTP transport so tests can stub responses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to a kodiakd server. Request deadlines come from the
// caller's context; the client itself sets none.
type Client struct {
	baseURL string
	http    HTTPClient
	dialer  *websocket.Dialer
}

// NewClient creates a client for the kodiakd instance at baseURL.
func NewClient(baseURL string) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{})
}

// NewClientWithHTTP creates a client with an injected HTTP transport.
func NewClientWithHTTP(baseURL string, httpClient HTTPClient) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		dialer:  websocket.DefaultDialer,
	}
}

// newClient builds the client for the server the flags resolved.
func newClient() *Client {
	return NewClient(resolveServerURL())
}

// resolveServerURL picks the kodiakd address. The --server flag wins,
// then the KODIAK_SERVER environment variable, then the server section
// of --config, then the default local address.
func resolveServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv(serverURLEnv); env != "" {
		return env
	}
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			ux.Warning(fmt.Sprintf("config %s unusable (%v); using the default server address", configPath, err))
		} else {
			host := cfg.Server.Host
			if host == "" || host == "0.0.0.0" {
				host = "localhost"
			}
			return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
		}
	}
	return defaultServerURL
}

// =============================================================================
// Response Envelopes
// =============================================================================

// RepositoryList is the repository listing envelope.
type RepositoryList struct {
	Repositories []datatypes.RepositoryRecord `json:"repositories"`
	Count        int                          `json:"count"`
}

// DeleteSummary reports a completed repository deletion.
type DeleteSummary struct {
	Status         string `json:"status"`
	DeletedRepoID  string `json:"deleted_repo_id"`
	RecordsDeleted int    `json:"records_deleted"`
	VectorsDeleted int    `json:"vectors_deleted"`
}

// IndexStats mirrors the server's vector index statistics payload.
type IndexStats struct {
	TotalVectors   int            `json:"total_vectors"`
	Dimension      int            `json:"dimension"`
	Repositories   int            `json:"num_repositories"`
	VectorsPerRepo map[string]int `json:"vectors_per_repo"`
}

// =============================================================================
// HTTP Operations
// =============================================================================

// Health reports server liveness and version.
func (c *Client) Health(ctx context.Context) (*datatypes.HealthResponse, error) {
	var out datatypes.HealthResponse
	if err := c.getJSON(ctx, "/api/v1/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ingest asks the server to clone and index a repository.
func (c *Client) Ingest(ctx context.Context, repoURL, branch string) (*datatypes.RepositoryIngestResponse, error) {
	req := datatypes.RepositoryIngestRequest{RepoURL: repoURL, Branch: branch}
	var out datatypes.RepositoryIngestResponse
	if err := c.postJSON(ctx, "/api/v1/repository/ingest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query asks a one-shot question about an ingested repository.
func (c *Client) Query(ctx context.Context, question, repo string, flow bool) (*datatypes.QueryResponse, error) {
	req := datatypes.QueryRequest{
		Question:             question,
		RepoID:               repo,
		IncludeExecutionFlow: &flow,
	}
	var out datatypes.QueryResponse
	if err := c.postJSON(ctx, "/api/v1/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeImpact reports the blast radius of changing one identifier.
func (c *Client) AnalyzeImpact(ctx context.Context, identifier, repo string) (*datatypes.ImpactReport, error) {
	req := datatypes.ImpactAnalysisRequest{Identifier: identifier, RepoID: repo}
	var out datatypes.ImpactReport
	if err := c.postJSON(ctx, "/api/v1/impact-analysis", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeDiffImpact aggregates impact reports for every function a
// unified diff touches.
func (c *Client) AnalyzeDiffImpact(ctx context.Context, diff, repo string) (*datatypes.DiffImpactResponse, error) {
	req := datatypes.DiffImpactRequest{Diff: diff, RepoID: repo}
	var out datatypes.DiffImpactResponse
	if err := c.postJSON(ctx, "/api/v1/impact-analysis/diff", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeFlow traces execution flow from an entry point. A maxDepth of
// zero uses the server default.
func (c *Client) AnalyzeFlow(ctx context.Context, entryPoint, repo string, maxDepth int) (*datatypes.FlowResponse, error) {
	req := datatypes.FlowRequest{EntryPoint: entryPoint, RepoID: repo, MaxDepth: maxDepth}
	var out datatypes.FlowResponse
	if err := c.postJSON(ctx, "/api/v1/flow", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRepositories returns every ingested repository's metadata.
func (c *Client) ListRepositories(ctx context.Context) (*RepositoryList, error) {
	var out RepositoryList
	if err := c.getJSON(ctx, "/api/v1/repository", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRepository removes a repository's vectors, metadata, and checkout.
func (c *Client) DeleteRepository(ctx context.Context, repo string) (*DeleteSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/v1/repository/"+url.PathEscape(repo), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	var out DeleteSummary
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IndexStats reports vector index contents.
func (c *Client) IndexStats(ctx context.Context) (*IndexStats, error) {
	var out IndexStats
	if err := c.getJSON(ctx, "/api/v1/index/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

// doJSON executes the request and decodes the JSON body into out. Error
// statuses surface the server's {error} message when the body carries one.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr datatypes.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s for %s", resp.Status, req.URL.Path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// =============================================================================
// Websocket Streaming
// =============================================================================

// StreamConn is one interactive session against the websocket answer
// stream. A single connection carries any number of questions, asked
// one at a time.
type StreamConn struct {
	conn   *websocket.Conn
	repoID string
}

// DialStream opens a websocket session for streamed answers about repo.
func (c *Client) DialStream(ctx context.Context, repo string) (*StreamConn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/ws"

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", u.String(), err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return &StreamConn{conn: conn, repoID: repo}, nil
}

// Ask sends one question and feeds the answer frames to the renderer
// until the stream terminates. Server-reported failures return an error
// wrapping ErrStreamFailed; transport failures mean the connection is
// dead and the caller should stop.
func (s *StreamConn) Ask(ctx context.Context, question string, renderer ux.StreamRenderer) (*ux.StreamResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.conn.WriteJSON(datatypes.WSQuery{Question: question, RepoID: s.repoID}); err != nil {
		return nil, fmt.Errorf("send question: %w", err)
	}

	for {
		var event ux.StreamEvent
		if err := s.conn.ReadJSON(&event); err != nil {
			return nil, fmt.Errorf("read answer frame: %w", err)
		}
		done, err := ux.RenderEvent(renderer, event)
		if err != nil {
			renderer.Finalize()
			return nil, fmt.Errorf("%w: %s", ErrStreamFailed, event.Error)
		}
		if done {
			renderer.Finalize()
			return renderer.Result(), nil
		}
	}
}

// Close tears down the websocket connection.
func (s *StreamConn) Close() error {
	return s.conn.Close()
}
