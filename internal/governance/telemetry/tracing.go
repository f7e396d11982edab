/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the governance
// runtime. Custom span attributes use the `governd.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "governd/runtime"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initializes the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (a no-op provider
// is used). Returns a shutdown function that must be called on exit.
func InitTraceProvider(ctx context.Context, endpoint, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("governd"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartToolCallSpan creates a span around one Tool Gateway dispatch.
func StartToolCallSpan(ctx context.Context, workspaceID, agentID int64, tool string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gateway.tool_call",
		trace.WithAttributes(
			attribute.Int64("governd.workspace_id", workspaceID),
			attribute.Int64("governd.agent_id", agentID),
			attribute.String("governd.tool", tool),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndToolCallSpan enriches the tool-call span with the dispatch outcome.
func EndToolCallSpan(span trace.Span, status string, capabilityDenied bool) {
	span.SetAttributes(
		attribute.String("governd.status", status),
		attribute.Bool("governd.capability_denied", capabilityDenied),
	)
	span.End()
}

// StartEnforcementCycleSpan creates the parent span for one risk
// enforcement cycle.
func StartEnforcementCycleSpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "enforcement.cycle", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndEnforcementCycleSpan enriches the cycle span with its result counts.
func EndEnforcementCycleSpan(span trace.Span, eventsCreated, eventsExecuted int, truncated bool) {
	span.SetAttributes(
		attribute.Int("governd.events_created", eventsCreated),
		attribute.Int("governd.events_executed", eventsExecuted),
		attribute.Bool("governd.truncated", truncated),
	)
	span.End()
}

// StartRetentionSweepSpan creates the parent span for one retention GC run.
func StartRetentionSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "retention.sweep", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndRetentionSweepSpan enriches the sweep span with its delete counts.
func EndRetentionSweepSpan(span trace.Span, workspaces int, eventsDeleted, runsDeleted int64) {
	span.SetAttributes(
		attribute.Int("governd.workspaces", workspaces),
		attribute.Int64("governd.events_deleted", eventsDeleted),
		attribute.Int64("governd.runs_deleted", runsDeleted),
	)
	span.End()
}
