package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// NewResource describes the running service to the collector.
func NewResource(cfg config.ObservabilityConfig) (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
}

// NewSpanExporter creates an OTLP span exporter for the configured protocol.
// Exporters connect lazily, so no collector needs to be reachable here.
func NewSpanExporter(ctx context.Context, otlp config.OTLPConfig) (sdktrace.SpanExporter, error) {
	switch otlp.Protocol {
	case ProtocolHTTP, "":
		var opts []otlptracehttp.Option
		if otlp.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(otlp.Endpoint))
		}
		if otlp.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case ProtocolGRPC:
		var opts []otlptracegrpc.Option
		if otlp.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(otlp.Endpoint))
		}
		if otlp.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown observability.otlp.protocol: '%s'", otlp.Protocol)
	}
}

// NewMetricExporter creates an OTLP metric exporter for the configured protocol.
func NewMetricExporter(ctx context.Context, otlp config.OTLPConfig) (sdkmetric.Exporter, error) {
	switch otlp.Protocol {
	case ProtocolHTTP, "":
		var opts []otlpmetrichttp.Option
		if otlp.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(otlp.Endpoint))
		}
		if otlp.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	case ProtocolGRPC:
		var opts []otlpmetricgrpc.Option
		if otlp.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(otlp.Endpoint))
		}
		if otlp.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown observability.otlp.protocol: '%s'", otlp.Protocol)
	}
}

// NewTracerProvider builds a batching tracer provider exporting over OTLP.
func NewTracerProvider(ctx context.Context, cfg config.ObservabilityConfig) (*sdktrace.TracerProvider, error) {
	res, err := NewResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("building OpenTelemetry resource: %w", err)
	}
	exporter, err := NewSpanExporter(ctx, cfg.OTLP)
	if err != nil {
		return nil, fmt.Errorf("creating span exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// NewMeterProvider builds a meter provider periodically exporting over OTLP.
func NewMeterProvider(ctx context.Context, cfg config.ObservabilityConfig) (*sdkmetric.MeterProvider, error) {
	res, err := NewResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("building OpenTelemetry resource: %w", err)
	}
	exporter, err := NewMetricExporter(ctx, cfg.OTLP)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}
