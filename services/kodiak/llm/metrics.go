// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for generation operations.
var (
	tracer = otel.Tracer("kodiak.llm")
	meter  = otel.Meter("kodiak.llm")
)

// Metrics for generation operations.
var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	tokenTotal       metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"llm_request_duration_seconds",
			metric.WithDescription("Duration of LLM generation requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"llm_request_total",
			metric.WithDescription("Total number of LLM generation requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		tokenTotal, err = meter.Int64Counter(
			"llm_tokens_total",
			metric.WithDescription("Total tokens consumed by LLM requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a generation operation.
func startOperationSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "LLMClient."+operation,
		trace.WithAttributes(
			attribute.String("llm.operation", operation),
		),
	)
}

// recordOperation records latency and count for a generation operation.
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

// recordTokenUsage records prompt and completion token consumption.
func recordTokenUsage(ctx context.Context, promptTokens, completionTokens int) {
	if err := initMetrics(); err != nil {
		return
	}
	tokenTotal.Add(ctx, int64(promptTokens),
		metric.WithAttributes(attribute.String("kind", "prompt")))
	tokenTotal.Add(ctx, int64(completionTokens),
		metric.WithAttributes(attribute.String("kind", "completion")))
}
