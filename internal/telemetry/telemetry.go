package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds tracing configuration
type Config struct {
	Enabled    bool    `yaml:"enabled"`
	Service    string  `yaml:"service"`
	Version    string  `yaml:"version"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// Telemetry owns the trace provider and its shutdown
type Telemetry struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	shutdown   func(context.Context) error
}

// New initializes tracing. Disabled config yields a no-op tracer so
// callers never branch.
func New(ctx context.Context, config Config) (*Telemetry, error) {
	if !config.Enabled {
		return &Telemetry{
			tracer:     noop.NewTracerProvider().Tracer("gateway"),
			propagator: propagation.NewCompositeTextMapPropagator(),
			shutdown:   func(context.Context) error { return nil },
		}, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(config.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.Service),
			semconv.ServiceVersion(config.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	sampleRate := config.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)
	otel.SetTracerProvider(provider)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(propagator)

	return &Telemetry{
		tracer:     provider.Tracer("gateway"),
		propagator: propagator,
		shutdown:   provider.Shutdown,
	}, nil
}

// Tracer returns the gateway tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Propagator returns the configured context propagator
func (t *Telemetry) Propagator() propagation.TextMapPropagator {
	return t.propagator
}

// Shutdown flushes pending spans
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}
