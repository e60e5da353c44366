package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/infra/config"
)

// Provider bundles the process-wide telemetry handles: the Prometheus import
// collectors and, when an OTLP endpoint is configured, the trace pipeline.
type Provider struct {
	importMetrics *ImportMetrics
	tracing       *TracerProvider
}

// Attach registers the Prometheus collectors and installs the global tracer
// provider. Tracing is skipped when no OTLP endpoint is configured.
func Attach(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	provider := &Provider{
		importMetrics: NewImportMetrics(prometheus.DefaultRegisterer),
	}

	if cfg.Telemetry.OTLPEndpoint != "" {
		tracing, err := NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		provider.tracing = tracing
	}

	return provider, nil
}

// ImportMetrics exposes the bulk import metric set.
func (p *Provider) ImportMetrics() *ImportMetrics {
	if p == nil {
		return NewImportMetrics(prometheus.NewRegistry())
	}
	return p.importMetrics
}

// Shutdown flushes and stops the trace pipeline, if one was attached.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracing == nil {
		return nil
	}
	return p.tracing.Shutdown(ctx)
}
