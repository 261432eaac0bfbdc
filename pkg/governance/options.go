// Package governance evaluates the approval policy carried by a rules
// container: SuperAdmin sign-off of the container itself, rule-family
// selection, and group threshold evaluation of user signatures.
package governance

import (
	"log/slog"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
)

type options struct {
	verifier crypto.SignatureVerifier
	logger   *slog.Logger
}

// Option configures an Evaluator or a RulesVerifier.
type Option func(*options)

// WithVerifier replaces the default P-256 signature verifier.
func WithVerifier(v crypto.SignatureVerifier) Option {
	return func(o *options) {
		if v != nil {
			o.verifier = v
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		verifier: crypto.P256Verifier{},
		logger:   slog.Default().With("component", "governance"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
