// Package tracing wires OpenTelemetry for the daemon and the executor.
// Span export is opt-in: without OTEL_EXPORTER_OTLP_ENDPOINT every
// tracer returned here is a no-op.
package tracing

import (
	"context"
	"net/url"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "agor"

var setup struct {
	once     sync.Once
	provider trace.TracerProvider
	sdk      *sdktrace.TracerProvider
}

// Tracer returns a named tracer, initializing the provider on first use.
func Tracer(name string) trace.Tracer {
	setup.once.Do(configure)
	return setup.provider.Tracer(name)
}

// Shutdown flushes pending spans. Safe to call when tracing never started.
func Shutdown(ctx context.Context) error {
	if setup.sdk == nil {
		return nil
	}
	return setup.sdk.Shutdown(ctx)
}

func configure() {
	setup.provider = noop.NewTracerProvider()

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return
	}

	ctx := context.Background()
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(hostPort(endpoint)),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		res = resource.Default()
	}

	setup.sdk = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	setup.provider = setup.sdk
	otel.SetTracerProvider(setup.provider)
}

// hostPort reduces a possibly scheme-qualified endpoint to host:port,
// which is what otlptracehttp.WithEndpoint expects.
func hostPort(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
