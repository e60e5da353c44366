package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/infra/config"
)

func TestNewTracerProvider_InstallsGlobalProvider(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), config.TelemetrySettings{
		OTLPEndpoint: "localhost:4318",
		ServiceName:  "identity-test",
		SamplingRate: 1,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracerProvider returned error: %v", err)
	}

	global, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("global tracer provider is %T, want the SDK provider", otel.GetTracerProvider())
	}
	if global != tp.provider {
		t.Fatal("global tracer provider is not the one just built")
	}

	// No spans were recorded, so shutdown must not block on the exporter.
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestAttach_WithoutEndpointSkipsTracing(t *testing.T) {
	cfg := &config.AppConfig{}

	provider, err := Attach(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}

	if provider.tracing != nil {
		t.Fatal("tracing must stay off without an OTLP endpoint")
	}
	if provider.ImportMetrics() == nil {
		t.Fatal("import metrics were not registered")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown without tracing returned error: %v", err)
	}
}
