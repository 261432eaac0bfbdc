package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
)

// Semantic convention attributes for SDK telemetry.
var (
	AttrOperation     = attribute.Key("protect.operation")
	AttrCorrelationID = attribute.Key("protect.correlation_id")
	AttrErrorType     = attribute.Key("error.type")

	// Verification
	AttrKind         = attribute.Key("protect.kind")
	AttrBlockchain   = attribute.Key("protect.blockchain")
	AttrNetwork      = attribute.Key("protect.network")
	AttrVerifiedHash = attribute.Key("protect.verified_hash")
	AttrStep         = attribute.Key("protect.step")
	AttrOutcome      = attribute.Key("protect.outcome")

	// API resources
	AttrResource   = attribute.Key("protect.resource")
	AttrResourceID = attribute.Key("protect.resource.id")
)

// Verification outcomes.
const (
	OutcomeVerified       = "verified"
	OutcomeIntegrityError = "integrity_error"
	OutcomeWhitelistError = "whitelist_error"
	OutcomeError          = "error"
)

// VerificationOperation creates attributes for a whitelist verification.
func VerificationOperation(kind, blockchain, network string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrKind.String(kind),
		AttrBlockchain.String(blockchain),
		AttrNetwork.String(network),
	}
}

// ResourceOperation creates attributes for an API fetch.
func ResourceOperation(resource, id string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrResource.String(resource),
		AttrResourceID.String(id),
	}
}

// Outcome classifies a verification result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeVerified
	case verrors.IsIntegrity(err):
		return OutcomeIntegrityError
	case verrors.IsWhitelist(err):
		return OutcomeWhitelistError
	default:
		return OutcomeError
	}
}

// ErrorType names the class of err for the error.type attribute.
func ErrorType(err error) string {
	var ie *verrors.IntegrityError
	if errors.As(err, &ie) {
		return "integrity"
	}
	var we *verrors.WhitelistError
	if errors.As(err, &we) {
		return "whitelist"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "context"
	}
	return fmt.Sprintf("%T", err)
}

// SetSpanError records err on span and marks it failed. The failing step is
// attached when err carries one.
func SetSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if step := verrors.StepOf(err); step != "" {
		span.SetAttributes(AttrStep.String(step))
	}
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
