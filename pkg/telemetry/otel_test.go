package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/storeflow/storeflow/pkg/config"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), false, FromConfig(config.Default().Telemetry, "test"))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if p.Enabled() {
		t.Error("Enabled() = true for a disabled config")
	}
	_, span := p.Tracer().Start(context.Background(), "extract")
	if span.SpanContext().IsValid() {
		t.Error("noop span should have an invalid span context")
	}
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestSetup_EnabledWithoutEndpointIsNoop(t *testing.T) {
	opts := FromConfig(config.TelemetryConfig{Enabled: true, ServiceName: "storeflow"}, "test")
	p, err := Setup(context.Background(), true, opts)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if p.Enabled() {
		t.Error("Enabled() = true without an endpoint")
	}
}

func TestNewWithTracerProvider_RecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	p := NewWithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, span := p.Tracer().Start(context.Background(), "stage")
	span.SetAttributes(StageAttributes("stage", 6)...)
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "stage" {
		t.Fatalf("recorded %d spans", len(ended))
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).Description(); got != tt.want {
			t.Errorf("sampler(%v).Description() = %q, want %q", tt.ratio, got, tt.want)
		}
	}
}
