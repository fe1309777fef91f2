package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "toolgate"

// ProviderConfig configures telemetry export.
type ProviderConfig struct {
	ServiceName string
	// Endpoint is the OTLP/HTTP collector endpoint (host:port). Empty
	// disables trace export; instruments still work against in-process
	// providers, which tests read back directly.
	Endpoint string
	Insecure bool
	// Reader, when set, collects metrics (tests use a manual reader).
	Reader sdkmetric.Reader
}

// Provider owns the telemetry pipeline and its shutdown.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// NewProvider builds tracer and meter providers per the config.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel: build resource: %w", err)
	}

	traceOptions := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		exporterOptions := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			exporterOptions = append(exporterOptions, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOptions...)
		if err != nil {
			return nil, fmt.Errorf("otel: create trace exporter: %w", err)
		}
		traceOptions = append(traceOptions, sdktrace.WithBatcher(exporter))
	}

	meterOptions := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Reader != nil {
		meterOptions = append(meterOptions, sdkmetric.WithReader(cfg.Reader))
	}

	return &Provider{
		tracerProvider: sdktrace.NewTracerProvider(traceOptions...),
		meterProvider:  sdkmetric.NewMeterProvider(meterOptions...),
	}, nil
}

// Tracer returns a named tracer from the provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

// Meter returns a named meter from the provider.
func (p *Provider) Meter(name string) metric.Meter {
	return p.meterProvider.Meter(name)
}

// Observer builds a tool observer backed by this provider.
func (p *Provider) Observer() (*ToolObserver, error) {
	return NewToolObserver(p.Meter("toolgate"), p.Tracer("toolgate"))
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return errors.Join(
		p.tracerProvider.Shutdown(ctx),
		p.meterProvider.Shutdown(ctx),
	)
}
