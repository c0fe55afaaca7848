// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for index operations.
var (
	tracer = otel.Tracer("kodiak.index")
	meter  = otel.Meter("kodiak.index")
)

// Metrics for index operations.
var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	vectorCount      metric.Int64Gauge
	searchResults    metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"vector_index_operation_duration_seconds",
			metric.WithDescription("Duration of vector index operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"vector_index_operation_total",
			metric.WithDescription("Total number of vector index operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		vectorCount, err = meter.Int64Gauge(
			"vector_index_size",
			metric.WithDescription("Current number of vectors in the index"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		searchResults, err = meter.Int64Histogram(
			"vector_index_search_results",
			metric.WithDescription("Number of results per search"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for an index operation.
func startOperationSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "VectorIndex."+operation,
		trace.WithAttributes(
			attribute.String("index.operation", operation),
		),
	)
}

// recordOperation records latency and count for an index operation.
func recordOperation(ctx context.Context, operation string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)

	operationLatency.Record(ctx, duration.Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)
}

// recordSearchResults records the number of search results.
func recordSearchResults(ctx context.Context, count int) {
	if err := initMetrics(); err != nil {
		return
	}
	searchResults.Record(ctx, int64(count))
}

// recordVectorCount records the current index size.
func recordVectorCount(ctx context.Context, size int) {
	if err := initMetrics(); err != nil {
		return
	}
	vectorCount.Record(ctx, int64(size))
}
