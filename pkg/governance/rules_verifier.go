package governance

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
)

// StepRulesSignatures names the SuperAdmin verification step in typed errors.
const StepRulesSignatures = "verify_rules_signatures"

// RulesVerifier checks that a rules container was signed by enough
// SuperAdmins. It must pass before the decoded container is trusted.
type RulesVerifier struct {
	keys     *crypto.KeyRing
	minValid int
	logger   *slog.Logger
}

// NewRulesVerifier builds a verifier over the configured SuperAdmin keys.
// WithVerifier replaces the verifier used by a ring built here; a ring
// passed in keeps its own.
func NewRulesVerifier(keys *crypto.KeyRing, minValid int, opts ...Option) (*RulesVerifier, error) {
	if keys == nil || keys.Len() == 0 {
		return nil, errors.New("governance: no SuperAdmin keys configured")
	}
	if minValid < 1 {
		return nil, fmt.Errorf("governance: minimum valid SuperAdmin signatures must be at least 1, got %d", minValid)
	}
	if minValid > keys.Len() {
		return nil, fmt.Errorf("governance: %d SuperAdmin signatures required but only %d keys configured", minValid, keys.Len())
	}
	o := buildOptions(opts)
	return &RulesVerifier{keys: keys, minValid: minValid, logger: o.logger}, nil
}

// NewRulesVerifierFromPEM parses PEM SuperAdmin keys and builds a verifier.
func NewRulesVerifierFromPEM(pems []string, minValid int, opts ...Option) (*RulesVerifier, error) {
	o := buildOptions(opts)
	ring, err := crypto.NewKeyRingFromPEM(pems, o.verifier)
	if err != nil {
		return nil, fmt.Errorf("governance: SuperAdmin keys: %w", err)
	}
	return NewRulesVerifier(ring, minValid, opts...)
}

// MinValid returns the number of SuperAdmin signatures required.
func (v *RulesVerifier) MinValid() int {
	return v.minValid
}

// Verify checks sigs over the raw bytes of the base64 container and returns
// those bytes. Each signature is tried against every key; a key counts at
// most once, so repeating one signature cannot meet the threshold. This is
// stricter than counting every valid signature: the threshold is met by
// distinct SuperAdmin keys, not by signatures.
func (v *RulesVerifier) Verify(containerB64 string, sigs []rules.UserSignature) ([]byte, error) {
	raw, err := rules.DecodeBase64(containerB64)
	if err != nil {
		return nil, verrors.Integrity(StepRulesSignatures, "rules container is not valid base64", err)
	}
	if len(raw) == 0 {
		return nil, verrors.Integrity(StepRulesSignatures, "rules container is empty", nil)
	}
	if err := v.VerifyBytes(raw, sigs); err != nil {
		return nil, err
	}
	return raw, nil
}

// VerifyBytes is Verify for already decoded container bytes.
func (v *RulesVerifier) VerifyBytes(raw []byte, sigs []rules.UserSignature) error {
	matched := make(map[int]struct{}, v.keys.Len())
	for _, sig := range sigs {
		idx, err := v.keys.Match(raw, sig.Signature)
		if err != nil {
			return verrors.Integrity(StepRulesSignatures,
				fmt.Sprintf("SuperAdmin signature from %q cannot be decoded", sig.UserID), err)
		}
		if idx < 0 {
			v.logger.Debug("SuperAdmin signature matched no key", "user_id", sig.UserID)
			continue
		}
		matched[idx] = struct{}{}
		if len(matched) >= v.minValid {
			return nil
		}
	}
	v.logger.Warn("rules container not approved by SuperAdmins",
		"step", StepRulesSignatures,
		"valid_signatures", len(matched),
		"required", v.minValid,
	)
	return verrors.Integrity(StepRulesSignatures,
		fmt.Sprintf("only %d valid SuperAdmin signatures, %d required", len(matched), v.minValid), nil)
}
