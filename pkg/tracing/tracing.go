package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer sets the tracer to be used for tracing.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a new span with the given name and returns the context and span.
// Without a configured tracer it returns the span already carried by ctx.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if tracer == nil {
		return ""
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
