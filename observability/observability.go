// Package observability wires OpenTelemetry tracing and Prometheus
// metrics behind one Manager, grounded on
// pkg/observability/manager.go's lifecycle and pkg/observability/tracer.go's
// OTLP-exporter setup, retargeted from Hector's agent/LLM/RAG metric
// surface onto the orchestrator's run/step/tool/approval/index surface.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures the OTel tracer provider.
type TracingConfig struct {
	Enabled      bool
	Exporter     string // "stdout", or any other value (including "") for OTLP; ignored when Enabled is false
	EndpointURL  string
	SamplingRate float64
	ServiceName  string
}

// Config is the full observability surface exposed to the CLI's `serve`
// and `run` commands.
type Config struct {
	Tracing TracingConfig
	Metrics MetricsConfig
}

// Manager owns the lifecycle of tracing and metrics for one process.
type Manager struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	metrics *Metrics
}

// NewManager initializes tracing and metrics per cfg. Either subsystem
// may be disabled independently; a disabled tracer falls back to a noop
// implementation so callers never need a nil check.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	m := &Manager{}

	tracer, tp, err := initTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("observability: tracer init: %w", err)
	}
	m.tracer, m.tp = tracer, tp
	if cfg.Tracing.Enabled {
		slog.Info("observability: tracing initialized", "exporter", cfg.Tracing.Exporter, "endpoint", cfg.Tracing.EndpointURL)
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("observability: metrics init: %w", err)
	}
	m.metrics = metrics
	if cfg.Metrics.Enabled {
		slog.Info("observability: metrics initialized", "namespace", cfg.Metrics.Namespace)
	}

	return m, nil
}

func initTracer(ctx context.Context, cfg TracingConfig) (trace.Tracer, *sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer("orchestrix"), nil, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.EndpointURL),
			otlptracegrpc.WithInsecure(),
		)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes())
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(rate)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Tracer(cfg.ServiceName), tp, nil
}

// Tracer returns the process tracer, always non-nil.
func (m *Manager) Tracer() trace.Tracer {
	if m == nil || m.tracer == nil {
		return noop.NewTracerProvider().Tracer("orchestrix")
	}
	return m.tracer
}

// Metrics returns the metrics recorder, or nil if metrics are disabled.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Shutdown flushes and stops the tracer provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.tp == nil {
		return nil
	}
	return m.tp.Shutdown(ctx)
}
