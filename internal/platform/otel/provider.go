// Package otel configures OpenTelemetry tracing for tablecache processes.
package otel

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/tablecache/internal/platform/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects the trace exporter for a process.
type Config struct {
	// Enabled is "false" to force tracing off even with an endpoint.
	Enabled  string `env:"OTEL_ENABLED"`
	Endpoint string `env:"OTEL_ENDPOINT"`
	// SampleRatio applies to root spans; remote parents decide for children.
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

func (c Config) active() bool {
	if strings.EqualFold(strings.TrimSpace(c.Enabled), "false") {
		return false
	}
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) sampler() (sdktrace.Sampler, error) {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return nil, fmt.Errorf("otel sample ratio %v outside [0, 1]", c.SampleRatio)
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio)), nil
}

// Setup reads TABLECACHE_OTEL_* and registers a global tracer provider for
// service when an endpoint is configured. Otherwise it changes nothing and
// returns a no-op shutdown.
func Setup(ctx context.Context, service string) (shutdown func(context.Context) error, err error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return noopShutdown, err
	}
	return SetupWithConfig(ctx, service, cfg)
}

// SetupWithConfig is Setup with an explicit Config.
func SetupWithConfig(ctx context.Context, service string, cfg Config) (func(context.Context) error, error) {
	if !cfg.active() {
		return noopShutdown, nil
	}
	sampler, err := cfg.sampler()
	if err != nil {
		return noopShutdown, err
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(strings.TrimSpace(cfg.Endpoint)))
	if err != nil {
		return noopShutdown, fmt.Errorf("create otlp exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return noopShutdown, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func noopShutdown(context.Context) error { return nil }
