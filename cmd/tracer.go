package cmd

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	appName = "mysql-s3-backup"
)

// getTracer get a global tracer for the application, which incorporates both the name of the application
// and the command that is being run.
func getTracer(cmd string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(fmt.Sprintf("%s/%s", appName, cmd))
}

func getTracerProvider() *sdktrace.TracerProvider {
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		return nil
	}
	return tp
}

// shutdownTracer flushes any spans still buffered for export.
func shutdownTracer(ctx context.Context) {
	tp := getTracerProvider()
	if tp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = tp.Shutdown(ctx)
}
