package util

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	tracerKey contextKey = "mysql-s3-backup-tracer"

	defaultTracerName = "mysql-s3-backup"
)

// ContextWithTracer adds a tracer to the context, using a key known only internally to this package.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

// GetTracerFromContext retrieves a tracer from the context, or the global default.
func GetTracerFromContext(ctx context.Context) trace.Tracer {
	if tracer, ok := ctx.Value(tracerKey).(trace.Tracer); ok && tracer != nil {
		return tracer
	}
	return otel.Tracer(defaultTracerName)
}

// EndSpan marks the span as failed when err is set, then ends it.
func EndSpan(span trace.Span, err error, okMessage string) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, okMessage)
	}
	span.End()
}
