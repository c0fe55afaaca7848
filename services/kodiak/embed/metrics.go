// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for embedding operations.
var (
	tracer = otel.Tracer("kodiak.embed")
	meter  = otel.Meter("kodiak.embed")
)

// Metrics for embedding operations.
var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	vectorTotal      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"embedding_request_duration_seconds",
			metric.WithDescription("Duration of embedding operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"embedding_operation_total",
			metric.WithDescription("Total number of embedding operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		vectorTotal, err = meter.Int64Counter(
			"embedding_vectors_total",
			metric.WithDescription("Total number of vectors produced"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for an embedding operation.
func startOperationSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "EmbedClient."+operation,
		trace.WithAttributes(
			attribute.String("embed.operation", operation),
		),
	)
}

// recordOperation records latency and count for an embedding operation.
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

// recordVectorCount records how many vectors a batch produced.
func recordVectorCount(ctx context.Context, count int) {
	if err := initMetrics(); err != nil {
		return
	}
	vectorTotal.Add(ctx, int64(count))
}
