// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for the HTTP surface. Per-request spans
// come from the otelgin middleware; handlers add child spans here.
var (
	tracer = otel.Tracer("kodiak.api")
	meter  = otel.Meter("kodiak.api")
)

// Metrics for served requests.
var (
	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"http_request_duration_seconds",
			metric.WithDescription("Duration of handled HTTP requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"http_requests_total",
			metric.WithDescription("Total number of handled HTTP requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startHandlerSpan creates a span for one handler invocation.
func startHandlerSpan(ctx context.Context, handler string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "API."+handler,
		trace.WithAttributes(
			attribute.String("api.handler", handler),
		),
	)
}

// recordRequest records latency and count for a handled request. The
// route label is the registered pattern, not the raw path, to keep
// cardinality bounded.
func recordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)

	requestLatency.Record(ctx, duration.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}
