package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/config"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
)

func testProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	p, err := NewWithProviders(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	)
	require.NoError(t, err)
	return p, rec, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "protect-sdk", cfg.ServiceName)
	require.Equal(t, Version, cfg.ServiceVersion)
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.False(t, cfg.Enabled)
	require.False(t, cfg.Insecure)
}

func TestFromTelemetry(t *testing.T) {
	cfg := FromTelemetry(config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "otel:4317",
		Insecure:    true,
		SampleRate:  0.25,
		ServiceName: "custody-gateway",
	})
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, "otel:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.Equal(t, "custody-gateway", cfg.ServiceName)

	empty := FromTelemetry(config.TelemetryConfig{})
	assert.Equal(t, DefaultConfig(), empty)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NotNil(t, p.TracerProvider())
	require.NotNil(t, p.MeterProvider())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestNewProviderEnabled(t *testing.T) {
	// Exporters connect lazily, so creation succeeds without a collector.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Insecure = true
	cfg.OTLPEndpoint = "127.0.0.1:1"
	p, err := New(ctx, cfg)
	require.NoError(t, err)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShutdown()
	require.NoError(t, p.Shutdown(shutdownCtx))
}

func TestTrackOperation(t *testing.T) {
	p, rec, reader := testProvider(t)

	ctx, finish := p.TrackOperation(context.Background(), "sdk.rules", attribute.String("test.key", "test.value"))
	require.NotNil(t, ctx)
	finish(nil)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "sdk.rules", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), AttrOperation.String("sdk.rules"))

	assert.Equal(t, int64(1), sumOf(t, reader, "protect.operations.total"))
	assert.Equal(t, int64(0), sumOf(t, reader, "protect.operations.failed"))
	assert.Equal(t, int64(0), sumOf(t, reader, "protect.operations.active"))
}

func TestTrackOperationWithError(t *testing.T) {
	p, rec, reader := testProvider(t)

	_, finish := p.TrackOperation(context.Background(), "sdk.verify_address")
	finish(verrors.Whitelist("verify_whitelist_signatures", "governance thresholds not met", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), AttrStep.String("verify_whitelist_signatures"))
	assert.Equal(t, int64(1), sumOf(t, reader, "protect.operations.failed"))
}

func TestTrackOperationDoesNotMutateCallerAttributes(t *testing.T) {
	p, _, _ := testProvider(t)

	attrs := make([]attribute.KeyValue, 1, 4)
	attrs[0] = attribute.String("a", "b")
	_, finish := p.TrackOperation(context.Background(), "sdk.op", attrs...)
	finish(errors.New("boom"))
	assert.Equal(t, attribute.String("a", "b"), attrs[:cap(attrs)][0])
	assert.Equal(t, attribute.KeyValue{}, attrs[:cap(attrs)][1])
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeVerified, Outcome(nil))
	assert.Equal(t, OutcomeIntegrityError, Outcome(verrors.Integrity("s", "r", nil)))
	assert.Equal(t, OutcomeWhitelistError, Outcome(fmt.Errorf("wrapped: %w", verrors.Whitelist("s", "r", nil))))
	assert.Equal(t, OutcomeError, Outcome(errors.New("other")))
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "integrity", ErrorType(verrors.Integrity("s", "r", nil)))
	assert.Equal(t, "whitelist", ErrorType(verrors.Whitelist("s", "r", nil)))
	assert.Equal(t, "context", ErrorType(fmt.Errorf("fetch: %w", context.DeadlineExceeded)))
	assert.Equal(t, "*errors.errorString", ErrorType(errors.New("x")))
}

func TestVerificationOperation(t *testing.T) {
	attrs := VerificationOperation("address", "ETH", "mainnet")
	require.Len(t, attrs, 3)
	assert.Equal(t, "protect.kind", string(attrs[0].Key))
	assert.Equal(t, "ETH", attrs[1].Value.AsString())
}

func TestResourceOperation(t *testing.T) {
	attrs := ResourceOperation("whitelisted_address", "42")
	require.Len(t, attrs, 2)
	assert.Equal(t, "protect.resource.id", string(attrs[1].Key))
}

func TestAddSpanEvent(t *testing.T) {
	p, rec, _ := testProvider(t)
	ctx, span := p.StartSpan(context.Background(), "parent")
	AddSpanEvent(ctx, "rules.refreshed", attribute.Int("users", 3))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "rules.refreshed", spans[0].Events()[0].Name)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "step", "verify_metadata_hash")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "verify_metadata_hash", line["step"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "DEBUG", "")
	require.NoError(t, err)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "loud", "text")
	require.Error(t, err)
	_, err = NewLogger(&bytes.Buffer{}, "INFO", "xml")
	require.Error(t, err)
}
