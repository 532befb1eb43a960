// Package telemetry bootstraps the OpenTelemetry tracer and meter.
// cmd/orchestrator uses the tracer for one span per run; the orchestrator,
// transport, and strategy engine packages emit no spans of their own, and
// no instrument records to the meter. Trimmed from the teacher's OTelProvider: HTTP/semconv resource
// plumbing is dropped, gRPC OTLP export (already in go.mod) is kept, with a
// stdout exporter fallback for local runs with no collector configured.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the process's tracer and meter and the exporters behind
// them. One Provider is created at runtime startup and shared explicitly
// (no global singleton beyond otel's own package-level defaults).
type Provider struct {
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider
	mu            sync.Mutex
	closed        bool
}

// Options configures the provider.
type Options struct {
	ServiceName    string
	OTLPEndpoint   string // empty = use stdout exporter instead
	SamplingRatio  float64
	Insecure       bool
}

// New builds a Provider. With a non-empty OTLPEndpoint it exports via
// OTLP/gRPC; otherwise spans go to stdout, which is enough for local runs
// and tests that just want a non-nil tracer.
func New(ctx context.Context, opts Options) (*Provider, error) {
	if opts.ServiceName == "" {
		return nil, fmt.Errorf("telemetry: service name is required")
	}
	if opts.SamplingRatio <= 0 {
		opts.SamplingRatio = 1.0
	}

	exporter, err := newSpanExporter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(opts.SamplingRatio)),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)

	return &Provider{
		tracer:        tp.Tracer(opts.ServiceName),
		meter:         mp.Meter(opts.ServiceName),
		traceProvider: tp,
	}, nil
}

func newSpanExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	if opts.OTLPEndpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.OTLPEndpoint)}
	if opts.Insecure {
		grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, grpcOpts...)
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }
func (p *Provider) Meter() metric.Meter  { return p.meter }

// Shutdown flushes and stops the exporter. Idempotent.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.traceProvider.Shutdown(shutdownCtx)
}
