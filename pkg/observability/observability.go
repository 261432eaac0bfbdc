// Package observability wires OpenTelemetry tracing and metrics for the
// Protect SDK.
//
// A Provider exports spans and metrics over OTLP/gRPC when enabled. When
// disabled it hands out the global (no-op by default) providers so callers
// never need to branch on configuration.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/config"
)

const instrumentationName = "github.com/taurushq-io/taurus-protect-sdk-sub009"

// Version is reported as the service and instrumentation version.
const Version = "0.9.0"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string  // host:port of the gRPC collector
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults with export disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "protect-sdk",
		ServiceVersion: Version,
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
	}
}

// FromTelemetry maps the SDK telemetry section onto a provider Config.
func FromTelemetry(t config.TelemetryConfig) *Config {
	c := DefaultConfig()
	c.Enabled = t.Enabled
	c.Insecure = t.Insecure
	if t.ServiceName != "" {
		c.ServiceName = t.ServiceName
	}
	if t.Endpoint != "" {
		c.OTLPEndpoint = t.Endpoint
	}
	if t.SampleRate > 0 {
		c.SampleRate = t.SampleRate
	}
	return c
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	shutdowns      []func(context.Context) error
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	operations metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram
	inFlight   metric.Int64UpDownCounter
}

// New creates a provider. A nil config means DefaultConfig.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := &Provider{
		config: cfg,
		logger: slog.Default().With("component", "observability"),
	}

	if !cfg.Enabled {
		p.logger.DebugContext(ctx, "telemetry export disabled")
		return p.init(otel.GetTracerProvider(), otel.GetMeterProvider())
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp, err := p.newTracerProvider(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	mp, err := p.newMeterProvider(ctx, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}
	p.shutdowns = append(p.shutdowns, tp.Shutdown, mp.Shutdown)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", cfg.ServiceName,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
		"insecure", cfg.Insecure,
	)
	return p.init(tp, mp)
}

// NewWithProviders builds a Provider over caller-owned providers. Shutdown
// leaves them untouched.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		config: DefaultConfig(),
		logger: slog.Default().With("component", "observability"),
	}
	return p.init(tp, mp)
}

func (p *Provider) init(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p.tracerProvider = tp
	p.meterProvider = mp
	p.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(p.config.ServiceVersion))
	p.meter = mp.Meter(instrumentationName, metric.WithInstrumentationVersion(p.config.ServiceVersion))
	if err := p.initOperationMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init operation metrics: %w", err)
	}
	return p, nil
}

func (p *Provider) newTracerProvider(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler(p.config.SampleRate)),
	), nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func (p *Provider) newMeterProvider(ctx context.Context, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(p.config.ExportInterval),
		)),
	), nil
}

func (p *Provider) initOperationMetrics() error {
	var err error

	p.operations, err = p.meter.Int64Counter("protect.operations.total",
		metric.WithDescription("SDK operations started"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	p.failures, err = p.meter.Int64Counter("protect.operations.failed",
		metric.WithDescription("SDK operations that returned an error"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	p.duration, err = p.meter.Float64Histogram("protect.operation.duration",
		metric.WithDescription("SDK operation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	p.inFlight, err = p.meter.Int64UpDownCounter("protect.operations.active",
		metric.WithDescription("SDK operations in progress"),
		metric.WithUnit("{operation}"),
	)
	return err
}

// Shutdown flushes and stops the exporters this provider created.
func (p *Provider) Shutdown(ctx context.Context) error {
	for _, shutdown := range p.shutdowns {
		if err := shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "telemetry shutdown failed", "error", err)
		}
	}
	p.shutdowns = nil
	return nil
}

// TracerProvider returns the provider spans are recorded on.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tracerProvider }

// MeterProvider returns the provider metrics are recorded on.
func (p *Provider) MeterProvider() metric.MeterProvider { return p.meterProvider }

// Tracer returns the SDK tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the SDK meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}

// TrackOperation opens a span and records the operation counters. The
// returned function must be called with the operation's result.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append(attrs[:len(attrs):len(attrs)], AttrOperation.String(name))
	set := metric.WithAttributes(attrs...)

	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.inFlight.Add(ctx, 1, set)
	p.operations.Add(ctx, 1, set)

	return ctx, func(err error) {
		p.inFlight.Add(ctx, -1, set)
		p.duration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			SetSpanError(span, err)
			p.failures.Add(ctx, 1, metric.WithAttributes(append(attrs[:len(attrs):len(attrs)], AttrErrorType.String(ErrorType(err)))...))
		}
		span.End()
	}
}
