// Package otel provides OpenTelemetry span helpers shared by the job watcher's REST client.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Common attribute keys for business context used across the application.
// Using shared keys ensures consistent attribute naming in traces.
const (
	AttrJobID       = attribute.Key("job.id")
	AttrPageSize    = attribute.Key("pagination.limit")
	AttrResultCount = attribute.Key("result.count")
	AttrBodyShape   = attribute.Key("response.shape")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
// This provides graceful degradation when tracing is disabled.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors.
// The status description is generic; details are kept in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

// LogFields returns trace_id and span_id fields for the span carried by ctx,
// so log lines can be correlated with traces. It returns nil when ctx holds no
// valid span.
func LogFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
