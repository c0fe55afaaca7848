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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"
)

// secretKeyPath is where container runtimes mount the OpenAI API key.
const secretKeyPath = "/run/secrets/openai_api_key"

// Load builds the configuration from defaults, an optional YAML file and
// KODIAK_* environment overrides, in that order. An empty path skips the
// file layer; a named file that cannot be read is an error. The result
// is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefault marshals DefaultConfig to path, creating parent
// directories as needed. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overlays KODIAK_* environment variables onto cfg. Unset
// variables leave the current value untouched. The OTLP endpoint and
// Influx token also honor their conventional names so the daemon drops
// into existing collector setups without renaming anything.
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnvString("KODIAK_SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KODIAK_SERVER_PORT", cfg.Server.Port)
	cfg.Index.SnapshotDir = getEnvString("KODIAK_INDEX_SNAPSHOT_DIR", cfg.Index.SnapshotDir)
	cfg.Index.Watch = getEnvBool("KODIAK_INDEX_WATCH", cfg.Index.Watch)
	cfg.Storage.Dir = getEnvString("KODIAK_STORAGE_DIR", cfg.Storage.Dir)
	cfg.Storage.InMemory = getEnvBool("KODIAK_STORAGE_IN_MEMORY", cfg.Storage.InMemory)
	cfg.Ingest.CloneDir = getEnvString("KODIAK_INGEST_CLONE_DIR", cfg.Ingest.CloneDir)
	cfg.Embedding.Model = getEnvString("KODIAK_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.BaseURL = getEnvString("KODIAK_EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.LLM.Model = getEnvString("KODIAK_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = getEnvString("KODIAK_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.Telemetry.OTLPEndpoint = getEnvString("KODIAK_OTLP_ENDPOINT",
		getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint))
	cfg.Analytics.Enabled = getEnvBool("KODIAK_ANALYTICS_ENABLED", cfg.Analytics.Enabled)
	cfg.Analytics.URL = getEnvString("KODIAK_ANALYTICS_URL", cfg.Analytics.URL)
	cfg.Analytics.Token = getEnvString("KODIAK_ANALYTICS_TOKEN",
		getEnvString("INFLUXDB_TOKEN", cfg.Analytics.Token))
	cfg.Analytics.Org = getEnvString("KODIAK_ANALYTICS_ORG", cfg.Analytics.Org)
	cfg.Analytics.Bucket = getEnvString("KODIAK_ANALYTICS_BUCKET", cfg.Analytics.Bucket)
	cfg.Archive.Enabled = getEnvBool("KODIAK_ARCHIVE_ENABLED", cfg.Archive.Enabled)
	cfg.Archive.Bucket = getEnvString("KODIAK_ARCHIVE_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.CredentialsFile = getEnvString("KODIAK_ARCHIVE_CREDENTIALS", cfg.Archive.CredentialsFile)
}

// OpenAIKey reads the OpenAI API key from the OPENAI_API_KEY environment
// variable, falling back to the mounted secret file container runtimes
// provide. The key is returned sealed in a memguard enclave and is never
// stored on the Config struct.
func OpenAIKey() (*memguard.Enclave, error) {
	return openAIKey(os.Getenv("OPENAI_API_KEY"), secretKeyPath)
}

func openAIKey(envValue, secretPath string) (*memguard.Enclave, error) {
	key := strings.TrimSpace(envValue)
	if key == "" {
		raw, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set and no secret at %s", secretPath)
		}
		key = strings.TrimSpace(string(raw))
		slog.Info("read the OpenAI API key from the mounted secret", "path", secretPath)
	}
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is empty")
	}
	return memguard.NewEnclave([]byte(key)), nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
