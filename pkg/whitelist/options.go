package whitelist

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/governance"
)

const instrumentationName = "github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/whitelist"

type options struct {
	evaluator       *governance.Evaluator
	logger          *slog.Logger
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
	decodeCacheSize int
}

// Option configures a Verifier.
type Option func(*options)

// WithEvaluator sets the threshold evaluator used for user signatures.
func WithEvaluator(e *governance.Evaluator) Option {
	return func(o *options) { o.evaluator = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithDecodeCache keeps up to size decoded rules containers, keyed by the
// hash of their bytes. SuperAdmin signatures are still checked on every call.
func WithDecodeCache(size int) Option {
	return func(o *options) { o.decodeCacheSize = size }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:         slog.Default().With("component", "whitelist"),
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.evaluator == nil {
		o.evaluator = governance.NewEvaluator(governance.WithLogger(o.logger))
	}
	return o
}
