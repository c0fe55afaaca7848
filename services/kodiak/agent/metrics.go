// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for agent operations.
var (
	tracer = otel.Tracer("kodiak.agent")
	meter  = otel.Meter("kodiak.agent")
)

// Metrics for agent operations.
var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	confidenceTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"agent_request_duration_seconds",
			metric.WithDescription("Duration of agent operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"agent_request_total",
			metric.WithDescription("Total number of agent operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		confidenceTotal, err = meter.Int64Counter(
			"agent_answer_confidence_total",
			metric.WithDescription("Answers grouped by confidence level"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for an agent operation.
func startOperationSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Agent."+operation,
		trace.WithAttributes(
			attribute.String("agent.operation", operation),
		),
	)
}

// recordOperation records latency and count for an agent operation.
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

// recordConfidence counts one answer at its confidence level.
func recordConfidence(ctx context.Context, level string) {
	if err := initMetrics(); err != nil {
		return
	}
	confidenceTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("level", level)))
}
