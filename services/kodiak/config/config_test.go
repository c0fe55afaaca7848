// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies the built-in defaults validate and carry
// the documented values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("Retrieval.TopK = %d, want 10", cfg.Retrieval.TopK)
	}
	if cfg.Reasoning.MaxFlowDepth != 5 {
		t.Errorf("Reasoning.MaxFlowDepth = %d, want 5", cfg.Reasoning.MaxFlowDepth)
	}
	if cfg.Embedding.Dimension != cfg.Index.Dimension {
		t.Errorf("Embedding.Dimension = %d, Index.Dimension = %d, want equal",
			cfg.Embedding.Dimension, cfg.Index.Dimension)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "gpt-4o-mini")
	}
	if got := time.Duration(cfg.Server.ReadTimeout); got != 30*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 30s", got)
	}
}

// TestLoad_EmptyPath verifies an empty path yields the defaults.
func TestLoad_EmptyPath(t *testing.T) {
	clearAmbientEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8000" {
		t.Errorf("Addr() = %q, want %q", cfg.Server.Addr(), "0.0.0.0:8000")
	}
}

// TestLoad_YAMLOverridesDefaults verifies file values win over defaults
// while unset keys keep theirs.
func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9001
  read_timeout: 5s
llm:
  model: gpt-4o
storage:
  in_memory: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if got := time.Duration(cfg.Server.ReadTimeout); got != 5*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 5s", got)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "gpt-4o")
	}
	if !cfg.Storage.InMemory {
		t.Error("Storage.InMemory = false, want true")
	}
	// Keys the file never mentions keep their defaults.
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("Retrieval.TopK = %d, want default 10", cfg.Retrieval.TopK)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want default", cfg.Server.Host)
	}
}

// TestLoad_EnvOverridesFile verifies KODIAK_* variables win over the
// YAML layer.
func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9001\n")
	t.Setenv("KODIAK_SERVER_PORT", "9100")
	t.Setenv("KODIAK_STORAGE_IN_MEMORY", "true")
	t.Setenv("KODIAK_LLM_MODEL", "gpt-4-turbo")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100 from env", cfg.Server.Port)
	}
	if !cfg.Storage.InMemory {
		t.Error("Storage.InMemory = false, want true from env")
	}
	if cfg.LLM.Model != "gpt-4-turbo" {
		t.Errorf("LLM.Model = %q, want env override", cfg.LLM.Model)
	}
}

// TestLoad_ConventionalEnvNames verifies the OTLP endpoint and Influx
// token fall back to their conventional variable names.
func TestLoad_ConventionalEnvNames(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("INFLUXDB_TOKEN", "tok-123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("Telemetry.OTLPEndpoint = %q, want collector:4317", cfg.Telemetry.OTLPEndpoint)
	}
	if cfg.Analytics.Token != "tok-123" {
		t.Errorf("Analytics.Token = %q, want tok-123", cfg.Analytics.Token)
	}

	// The KODIAK_* names still take precedence.
	t.Setenv("KODIAK_OTLP_ENDPOINT", "other:4317")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Telemetry.OTLPEndpoint != "other:4317" {
		t.Errorf("Telemetry.OTLPEndpoint = %q, want other:4317", cfg.Telemetry.OTLPEndpoint)
	}
}

// TestLoad_MissingFile verifies a named but absent file is an error.
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() with a missing file succeeded, want error")
	}
}

// TestLoad_InvalidYAML verifies parse failures are reported.
func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not, a, map")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with broken YAML succeeded, want error")
	}
}

// TestLoad_InvalidDuration verifies duration strings are checked.
func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "server:\n  read_timeout: fast\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() with a bad duration succeeded, want error")
	}
	if !strings.Contains(err.Error(), "invalid value for Duration") {
		t.Errorf("error = %v, want mention of the bad duration", err)
	}
}

// TestValidate covers the individual validation rules.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "empty host",
			mutate:  func(c *Config) { c.Server.Host = "" },
			wantErr: "server.host",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "timeouts",
		},
		{
			name: "dimension mismatch",
			mutate: func(c *Config) {
				c.Embedding.Dimension = 384
			},
			wantErr: "does not match",
		},
		{
			name:    "unsupported provider",
			mutate:  func(c *Config) { c.Embedding.Provider = "huggingface" },
			wantErr: "embedding.provider",
		},
		{
			name:    "zero top_k",
			mutate:  func(c *Config) { c.Retrieval.TopK = 0 },
			wantErr: "top_k",
		},
		{
			name:    "flow depth too deep",
			mutate:  func(c *Config) { c.Reasoning.MaxFlowDepth = 21 },
			wantErr: "max_flow_depth",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.LLM.Temperature = 3 },
			wantErr: "temperature",
		},
		{
			name: "overlap not below split size",
			mutate: func(c *Config) {
				c.Ingest.SplitSize = 100
				c.Ingest.SplitOverlap = 100
			},
			wantErr: "split_overlap",
		},
		{
			name:    "unknown trace exporter",
			mutate:  func(c *Config) { c.Telemetry.TraceExporter = "jaeger" },
			wantErr: "trace_exporter",
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.TraceExporter = "otlp"
				c.Telemetry.OTLPEndpoint = ""
			},
			wantErr: "otlp_endpoint",
		},
		{
			name: "analytics enabled without url",
			mutate: func(c *Config) {
				c.Analytics.Enabled = true
			},
			wantErr: "analytics.url",
		},
		{
			name: "archive enabled without bucket",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
			},
			wantErr: "archive.bucket",
		},
		{
			name: "empty storage dir on disk",
			mutate: func(c *Config) {
				c.Storage.Dir = ""
			},
			wantErr: "storage.dir",
		},
		{
			name: "empty storage dir in memory is fine",
			mutate: func(c *Config) {
				c.Storage.Dir = ""
				c.Storage.InMemory = true
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestWriteDefault verifies the generated file loads back to the exact
// defaults, durations included.
func TestWriteDefault(t *testing.T) {
	clearAmbientEnv(t)
	path := filepath.Join(t.TempDir(), "deep", "nested", "kodiak.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written defaults failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("written defaults did not round-trip:\n got %+v\nwant %+v", cfg, DefaultConfig())
	}
}

// TestWriteDefault_RefusesOverwrite verifies an existing file is kept.
func TestWriteDefault_RefusesOverwrite(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9001\n")
	if err := WriteDefault(path); err == nil {
		t.Fatal("WriteDefault() over an existing file succeeded, want error")
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("existing config was clobbered, Server.Port = %d", cfg.Server.Port)
	}
}

// TestOpenAIKey_FromEnv verifies the environment variable path.
func TestOpenAIKey_FromEnv(t *testing.T) {
	enc, err := openAIKey("sk-test-123", "/nonexistent")
	if err != nil {
		t.Fatalf("openAIKey() failed: %v", err)
	}
	buf, err := enc.Open()
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer buf.Destroy()
	if got := string(buf.Bytes()); got != "sk-test-123" {
		t.Errorf("key = %q, want sk-test-123", got)
	}
}

// TestOpenAIKey_FromSecretFile verifies the mounted secret fallback,
// including whitespace trimming.
func TestOpenAIKey_FromSecretFile(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "openai_api_key")
	if err := os.WriteFile(secret, []byte("sk-from-file\n"), 0600); err != nil {
		t.Fatalf("failed to write secret: %v", err)
	}
	enc, err := openAIKey("", secret)
	if err != nil {
		t.Fatalf("openAIKey() failed: %v", err)
	}
	buf, err := enc.Open()
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer buf.Destroy()
	if got := string(buf.Bytes()); got != "sk-from-file" {
		t.Errorf("key = %q, want sk-from-file", got)
	}
}

// TestOpenAIKey_Missing verifies the error when neither source exists.
func TestOpenAIKey_Missing(t *testing.T) {
	if _, err := openAIKey("", filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("openAIKey() with no sources succeeded, want error")
	}
}

// clearAmbientEnv blanks the conventional variable names so tests see
// pure defaults even when the host environment sets them.
func clearAmbientEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("INFLUXDB_TOKEN", "")
}

// writeConfig drops YAML content into a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kodiak.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}
