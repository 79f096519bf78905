// Package telemetry sets up OpenTelemetry tracing for pipeline runs. With
// an OTLP endpoint configured spans are exported over gRPC; otherwise a
// noop provider is used and tracing costs nothing.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/storeflow/storeflow/pkg/config"
)

// InstrumentationName is the tracer name used by pipeline spans.
const InstrumentationName = "github.com/storeflow/storeflow/pkg/pipeline"

// Options configures the tracer provider.
type Options struct {
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	SampleRatio    float64
	ExportTimeout  time.Duration
	BatchTimeout   time.Duration
}

// FromConfig maps the telemetry config section to Options.
func FromConfig(cfg config.TelemetryConfig, version string) Options {
	return Options{
		Endpoint:       cfg.Endpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Insecure,
		SampleRatio:    cfg.SampleRatio,
		ExportTimeout:  30 * time.Second,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider owns a tracer provider and its shutdown.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
	enabled  bool
}

// Noop returns a provider whose spans are discarded.
func Noop() *Provider {
	return &Provider{
		tp:       noop.NewTracerProvider(),
		shutdown: func(context.Context) error { return nil },
	}
}

// NewWithTracerProvider wraps an existing provider, e.g. one backed by an
// in-memory span recorder.
func NewWithTracerProvider(tp trace.TracerProvider) *Provider {
	p := &Provider{tp: tp, shutdown: func(context.Context) error { return nil }, enabled: true}
	if sdk, ok := tp.(*sdktrace.TracerProvider); ok {
		p.shutdown = sdk.Shutdown
	}
	return p
}

// Setup builds an OTLP gRPC provider when enabled with an endpoint, and a
// noop provider otherwise. The provider is installed globally.
func Setup(ctx context.Context, enabled bool, opts Options) (*Provider, error) {
	if !enabled || opts.Endpoint == "" {
		return Noop(), nil
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithTimeout(opts.ExportTimeout),
	}
	if opts.Insecure {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(opts.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, shutdown: tp.Shutdown, enabled: true}, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// Enabled reports whether spans leave the process.
func (p *Provider) Enabled() bool { return p.enabled }

// Tracer returns the pipeline tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tp.Tracer(InstrumentationName)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// StageAttributes returns the common attributes for a stage span.
func StageAttributes(stage string, tables int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("storeflow.stage", stage),
		attribute.Int("storeflow.tables", tables),
	}
}
