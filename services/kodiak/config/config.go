// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the Kodiak configuration.
//
// Configuration is layered, lowest precedence first: built-in defaults,
// an optional YAML file, and KODIAK_* environment variables. Secrets are
// never read from YAML; the OpenAI API key comes only from the
// environment or a mounted secret file (see OpenAIKey).
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the Kodiak daemon and CLI.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IndexConfig controls the vector index and its snapshot directory.
type IndexConfig struct {
	// Dimension must match the embedding dimension; Validate enforces it.
	Dimension   int    `yaml:"dimension"`
	SnapshotDir string `yaml:"snapshot_dir"`
	// Watch reloads the index when another process rewrites the snapshot.
	Watch bool `yaml:"watch"`
}

// RetrievalConfig controls semantic search.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// ReasoningConfig controls graph traversal. MaxFlowDepth is the default
// depth for execution flow traces when a request does not set one.
type ReasoningConfig struct {
	MaxFlowDepth int `yaml:"max_flow_depth"`
}

// EmbeddingConfig controls the embedding client.
type EmbeddingConfig struct {
	Provider          string `yaml:"provider"`
	Model             string `yaml:"model"`
	Dimension         int    `yaml:"dimension"`
	BaseURL           string `yaml:"base_url"`
	BatchSize         int    `yaml:"batch_size"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
}

// LLMConfig controls the chat completion client.
type LLMConfig struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// StorageConfig controls the Badger metadata store.
type StorageConfig struct {
	Dir        string `yaml:"dir"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// IngestConfig controls repository cloning and chunking.
type IngestConfig struct {
	CloneDir     string `yaml:"clone_dir"`
	MaxFileSize  int64  `yaml:"max_file_size"`
	Parallelism  int    `yaml:"parallelism"`
	SplitSize    int    `yaml:"split_size"`
	SplitOverlap int    `yaml:"split_overlap"`
}

// TelemetryConfig controls trace and metric export. TraceExporter is one
// of "otlp", "stdout" or "none"; MetricExporter is one of "prometheus",
// "stdout" or "none".
type TelemetryConfig struct {
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	TraceExporter  string  `yaml:"trace_exporter"`
	MetricExporter string  `yaml:"metric_exporter"`
	SampleRatio    float64 `yaml:"sample_ratio"`
}

// AnalyticsConfig controls the optional InfluxDB usage sink. Token may
// be left empty in YAML and supplied via KODIAK_ANALYTICS_TOKEN or
// INFLUXDB_TOKEN instead.
type AnalyticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// ArchiveConfig controls the optional GCS snapshot archive.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Duration wraps time.Duration so YAML values can be written as strings
// such as "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid value for Duration: %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// DefaultConfig returns the configuration used when no YAML file and no
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(120 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Index: IndexConfig{
			Dimension:   1536,
			SnapshotDir: "./data/index",
		},
		Retrieval: RetrievalConfig{TopK: 10},
		Reasoning: ReasoningConfig{MaxFlowDepth: 5},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-ada-002",
			Dimension:         1536,
			BatchSize:         100,
			RequestsPerSecond: 5,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			MaxTokens:   2000,
		},
		Storage: StorageConfig{
			Dir: "./data/badger",
		},
		Ingest: IngestConfig{
			CloneDir:     "./data/repositories",
			MaxFileSize:  10 * 1024 * 1024,
			Parallelism:  4,
			SplitSize:    2000,
			SplitOverlap: 200,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "stdout",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Analytics: AnalyticsConfig{
			Bucket: "kodiak",
		},
	}
}

// Validate checks the configuration for values that would break the
// daemon at runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("config: server.host must not be empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: server timeouts must be positive")
	}
	if c.Index.Dimension < 1 {
		return fmt.Errorf("config: index.dimension must be positive")
	}
	if c.Index.SnapshotDir == "" {
		return fmt.Errorf("config: index.snapshot_dir must not be empty")
	}
	if c.Embedding.Dimension != c.Index.Dimension {
		return fmt.Errorf("config: embedding.dimension %d does not match index.dimension %d",
			c.Embedding.Dimension, c.Index.Dimension)
	}
	if c.Embedding.Provider != "openai" {
		return fmt.Errorf("config: unsupported embedding.provider %q (use base_url for compatible endpoints)",
			c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("config: embedding.model must not be empty")
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("config: embedding.batch_size must be positive")
	}
	if c.Embedding.RequestsPerSecond < 1 {
		return fmt.Errorf("config: embedding.requests_per_second must be positive")
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("config: retrieval.top_k must be positive")
	}
	if c.Reasoning.MaxFlowDepth < 1 || c.Reasoning.MaxFlowDepth > 20 {
		return fmt.Errorf("config: reasoning.max_flow_depth %d out of range [1,20]", c.Reasoning.MaxFlowDepth)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config: llm.model must not be empty")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config: llm.temperature %v out of range [0,2]", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("config: llm.max_tokens must be positive")
	}
	if !c.Storage.InMemory && c.Storage.Dir == "" {
		return fmt.Errorf("config: storage.dir must not be empty unless in_memory is set")
	}
	if c.Ingest.CloneDir == "" {
		return fmt.Errorf("config: ingest.clone_dir must not be empty")
	}
	if c.Ingest.MaxFileSize < 1 {
		return fmt.Errorf("config: ingest.max_file_size must be positive")
	}
	if c.Ingest.Parallelism < 1 {
		return fmt.Errorf("config: ingest.parallelism must be positive")
	}
	if c.Ingest.SplitSize < 1 {
		return fmt.Errorf("config: ingest.split_size must be positive")
	}
	if c.Ingest.SplitOverlap < 0 || c.Ingest.SplitOverlap >= c.Ingest.SplitSize {
		return fmt.Errorf("config: ingest.split_overlap %d must be in [0, split_size)", c.Ingest.SplitOverlap)
	}
	switch c.Telemetry.TraceExporter {
	case "otlp", "stdout", "none":
	default:
		return fmt.Errorf("invalid value for telemetry.trace_exporter: %q", c.Telemetry.TraceExporter)
	}
	switch c.Telemetry.MetricExporter {
	case "prometheus", "stdout", "none":
	default:
		return fmt.Errorf("invalid value for telemetry.metric_exporter: %q", c.Telemetry.MetricExporter)
	}
	if c.Telemetry.TraceExporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("config: telemetry.otlp_endpoint is required when trace_exporter is otlp")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry.sample_ratio %v out of range [0,1]", c.Telemetry.SampleRatio)
	}
	if c.Analytics.Enabled {
		if c.Analytics.URL == "" {
			return fmt.Errorf("config: analytics.url is required when analytics is enabled")
		}
		if c.Analytics.Org == "" || c.Analytics.Bucket == "" {
			return fmt.Errorf("config: analytics.org and analytics.bucket are required when analytics is enabled")
		}
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("config: archive.bucket is required when archive is enabled")
	}
	return nil
}
