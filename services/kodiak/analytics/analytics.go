// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics records query usage to InfluxDB.
//
// The sink is optional and write-only: one point per answered question,
// tagged by repository and transport. Writes are asynchronous so a slow
// or absent InfluxDB never stalls request handling; failures surface as
// warnings, not errors.
package analytics

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// measurement is the InfluxDB measurement name for answered queries.
const measurement = "query_answered"

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// QueryEvent describes one answered question. The question text itself
// is never recorded, only its length.
type QueryEvent struct {
	RepoID        string
	Transport     string // "http" or "websocket"
	Confidence    string
	Citations     int
	QuestionChars int
	FlowUsed      bool
	Duration      time.Duration
}

// Client writes usage points to an InfluxDB bucket.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

// New connects to InfluxDB and returns a usage sink.
//
// Description:
//
//	Builds the client and a non-blocking write API for the configured
//	org and bucket. A single health probe runs up front; an unreachable
//	server is logged and tolerated since analytics must never take the
//	engine down with it.
//
// Inputs:
//
//	ctx - Context for the health probe.
//	cfg - Connection settings. URL, Org and Bucket are required.
//	logger - Structured logger. Pass nil for slog.Default().
//
// Outputs:
//
//	*Client - The sink. Call Close on shutdown to flush buffered points.
//
// Thread Safety: Safe for concurrent use.
func New(ctx context.Context, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
	}

	if health, err := client.Health(ctx); err != nil {
		logger.Warn("influxdb unreachable, usage points will retry in the background",
			"url", cfg.URL, "error", err)
	} else if health.Status != "pass" {
		logger.Warn("influxdb unhealthy", "url", cfg.URL, "status", health.Status)
	}

	// The write API only surfaces errors through this channel; drain it
	// so failed batches are visible in the logs.
	go func() {
		for err := range c.writeAPI.Errors() {
			logger.Warn("analytics write failed", "error", err)
		}
	}()

	return c
}

// RecordQuery buffers one usage point. It never blocks.
func (c *Client) RecordQuery(_ context.Context, e QueryEvent) {
	p := influxdb2.NewPoint(
		measurement,
		map[string]string{
			"repo_id":    e.RepoID,
			"transport":  e.Transport,
			"confidence": e.Confidence,
		},
		map[string]interface{}{
			"citations":        e.Citations,
			"question_chars":   e.QuestionChars,
			"flow_used":        e.FlowUsed,
			"duration_seconds": e.Duration.Seconds(),
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(p)
}

// Close flushes buffered points and releases the connection.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}
