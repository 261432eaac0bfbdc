// Package whitelist verifies signed whitelisted addresses and assets.
//
// Verification is a fixed sequence of steps. Each step either passes or
// aborts the whole verification with a typed error; nothing is returned
// until every step has passed.
//
//  1. metadata hash: sha256(payloadAsString) must equal metadata.hash
//  2. rules container: enough SuperAdmin signatures over its bytes
//  3. decode the rules container
//  4. hash coverage (addresses only): the hash, or a legacy variant of it,
//     is listed by at least one user signature
//  5. whitelist signatures: the governance thresholds are met, with rule
//     lines selected from the linkage in the hashed payload
//  6. parse payloadAsString into the domain object
package whitelist

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/governance"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/observability"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
)

// Kind selects the pipeline variant.
type Kind string

const (
	KindAddress Kind = "address"
	KindAsset   Kind = "asset"
)

// Step names used in typed errors and span names.
const (
	StepMetadataHash        = "verify_metadata_hash"
	StepRulesSignatures     = governance.StepRulesSignatures
	StepDecodeRules         = rules.StepDecode
	StepHashCoverage        = "verify_hash_coverage"
	StepWhitelistSignatures = "verify_whitelist_signatures"
	StepParsePayload        = "parse_payload"
)

type variant struct {
	kind         Kind
	legacyHashes bool
	findRules    func(*rules.DecodedRulesContainer, string, string) (*rules.RuleSet, bool)
}

var (
	addressVariant = variant{kind: KindAddress, legacyHashes: true, findRules: governance.FindAddressRules}
	assetVariant   = variant{kind: KindAsset, findRules: governance.FindContractRules}
)

// Verifier runs the verification pipeline. It is safe for concurrent use.
type Verifier struct {
	rulesVerifier *governance.RulesVerifier
	evaluator     *governance.Evaluator
	decoded       *decodeCache
	logger        *slog.Logger
	tracer        trace.Tracer
	verifications metric.Int64Counter
}

// NewVerifier creates a Verifier that trusts rules containers approved by rv.
func NewVerifier(rv *governance.RulesVerifier, opts ...Option) (*Verifier, error) {
	if rv == nil {
		return nil, errors.New("whitelist: rules verifier is required")
	}
	if _, err := compiledSchemas(); err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	o := buildOptions(opts)
	decoded, err := newDecodeCache(o.decodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("whitelist: decode cache: %w", err)
	}
	verifications, err := o.meterProvider.Meter(instrumentationName).Int64Counter("protect.verification.total",
		metric.WithDescription("Whitelist verifications by kind and outcome"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("whitelist: verification counter: %w", err)
	}
	return &Verifier{
		rulesVerifier: rv,
		evaluator:     o.evaluator,
		decoded:       decoded,
		logger:        o.logger,
		tracer:        o.tracerProvider.Tracer(instrumentationName),
		verifications: verifications,
	}, nil
}

// VerifyAddress runs the six-step address pipeline.
func (v *Verifier) VerifyAddress(ctx context.Context, env *Envelope) (*AddressResult, error) {
	var addr WhitelistedAddress
	c, hash, err := v.run(ctx, addressVariant, env, &addr)
	if err != nil {
		return nil, err
	}
	return &AddressResult{Address: &addr, Container: c, VerifiedHash: hash}, nil
}

// VerifyAsset runs the five-step asset pipeline. Assets have no legacy hash
// fallback, so coverage of the metadata hash is enforced by the thresholds.
func (v *Verifier) VerifyAsset(ctx context.Context, env *Envelope) (*AssetResult, error) {
	var asset WhitelistedAsset
	c, hash, err := v.run(ctx, assetVariant, env, &asset)
	if err != nil {
		return nil, err
	}
	return &AssetResult{Asset: &asset, Container: c, VerifiedHash: hash}, nil
}

// chained is implemented by the domain types so the parsed payload can be
// checked against the envelope routing fields.
type chained interface {
	chain() string
	network() string
}

func (v *Verifier) run(ctx context.Context, vr variant, env *Envelope, out chained) (c *rules.DecodedRulesContainer, hash string, err error) {
	if env == nil {
		return nil, "", verrors.Integrity(StepMetadataHash, "envelope is missing", nil)
	}
	ctx, span := v.tracer.Start(ctx, "whitelist.verify", trace.WithAttributes(
		observability.VerificationOperation(string(vr.kind), env.Blockchain, env.Network)...,
	))
	defer func() {
		v.verifications.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(vr.kind)),
			attribute.String("outcome", observability.Outcome(err)),
		))
		if err != nil {
			observability.SetSpanError(span, err)
			v.logger.WarnContext(ctx, "whitelist verification failed",
				"kind", vr.kind,
				"step", verrors.StepOf(err),
				"blockchain", env.Blockchain,
				"network", env.Network,
				"error", err,
			)
		} else {
			span.SetAttributes(observability.AttrVerifiedHash.String(hash))
			v.logger.DebugContext(ctx, "whitelist verification passed",
				"kind", vr.kind,
				"verified_hash", hash,
			)
		}
		span.End()
	}()

	err = v.step(ctx, StepMetadataHash, func() error {
		return verifyMetadataHash(&env.Metadata)
	})
	if err != nil {
		return nil, "", err
	}

	var raw []byte
	err = v.step(ctx, StepRulesSignatures, func() error {
		var verr error
		raw, verr = v.rulesVerifier.Verify(env.RulesContainer, env.RulesSignatures)
		return verr
	})
	if err != nil {
		return nil, "", err
	}

	err = v.step(ctx, StepDecodeRules, func() error {
		var derr error
		c, derr = v.decoded.decode(raw)
		return derr
	})
	if err != nil {
		return nil, "", err
	}

	sigs := env.SignedPayload.Signatures
	hash = env.Metadata.Hash
	if vr.legacyHashes {
		err = v.step(ctx, StepHashCoverage, func() error {
			var cerr error
			hash, cerr = coveredHash(&env.Metadata, sigs)
			return cerr
		})
		if err != nil {
			return nil, "", err
		}
	}

	err = v.step(ctx, StepWhitelistSignatures, func() error {
		l, berr := boundLinks(env)
		if berr != nil {
			return berr
		}
		rs, ok := vr.findRules(c, l.chain, l.network)
		if !ok {
			return verrors.Whitelist(StepWhitelistSignatures,
				fmt.Sprintf("no %s whitelisting rules for blockchain %q network %q", vr.kind, l.chain, l.network), nil)
		}
		thresholds := governance.SelectThresholds(rs, l.walletPaths, l.internalAddresses)
		if !v.evaluator.Evaluate(thresholds, c, sigs, hash) {
			return verrors.Whitelist(StepWhitelistSignatures, "governance thresholds not met", nil)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	err = v.step(ctx, StepParsePayload, func() error {
		return parsePayload(vr.kind, env, out)
	})
	if err != nil {
		return nil, "", err
	}
	return c, hash, nil
}

// step runs fn inside a child span named after the step.
func (v *Verifier) step(ctx context.Context, name string, fn func() error) error {
	_, span := v.tracer.Start(ctx, "whitelist."+name)
	defer span.End()
	if err := fn(); err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	return nil
}

func verifyMetadataHash(m *Metadata) error {
	computed := crypto.Sha256HexString(m.PayloadAsString)
	if m.Hash == "" || !crypto.ConstantTimeEqualString(computed, m.Hash) {
		return verrors.Integrity(StepMetadataHash,
			fmt.Sprintf("metadata hash mismatch: provided %q, computed %q", m.Hash, computed), nil)
	}
	return nil
}

// coveredHash returns the first of the metadata hash and its legacy variants
// that a user signature lists.
func coveredHash(m *Metadata, sigs []rules.UserSignature) (string, error) {
	candidates := []string{m.Hash}
	for _, p := range legacyPayloads(m.PayloadAsString) {
		candidates = append(candidates, crypto.Sha256HexString(p))
	}
	for _, h := range candidates {
		for i := range sigs {
			if sigs[i].Covers(h) {
				return h, nil
			}
		}
	}
	return "", verrors.Integrity(StepHashCoverage, "hash not covered by any signature", nil)
}

// selection is what steers rule lookup and threshold selection.
type selection struct {
	chain             string
	network           string
	walletPaths       []string
	internalAddresses int
}

// boundLinks takes linkage from the hashed payload string only. The
// envelope's own linked wallets and internal addresses are transport data;
// when present they must agree with the payload or the envelope is
// rejected. Routing falls back to the payload when the envelope has none; a
// disagreement there is rejected by parsePayload.
func boundLinks(env *Envelope) (*selection, error) {
	var p struct {
		Blockchain              string                  `json:"blockchain"`
		Currency                string                  `json:"currency"`
		Network                 string                  `json:"network"`
		LinkedWallets           []LinkedWallet          `json:"linkedWallets"`
		LinkedInternalAddresses []LinkedInternalAddress `json:"linkedInternalAddresses"`
	}
	// A payload that does not parse fails later at the parse step; here it
	// links nothing.
	if err := json.Unmarshal([]byte(env.Metadata.PayloadAsString), &p); err != nil {
		p.LinkedWallets, p.LinkedInternalAddresses = nil, nil
		p.Blockchain, p.Currency, p.Network = "", "", ""
	}

	paths := walletPaths(p.LinkedWallets)
	if len(env.LinkedWallets) > 0 && !slices.Equal(walletPaths(env.LinkedWallets), paths) {
		return nil, verrors.Integrity(StepWhitelistSignatures, "envelope linked wallets do not match the signed payload", nil)
	}
	if len(env.LinkedInternalAddresses) > 0 &&
		!slices.Equal(internalIDs(env.LinkedInternalAddresses), internalIDs(p.LinkedInternalAddresses)) {
		return nil, verrors.Integrity(StepWhitelistSignatures, "envelope linked internal addresses do not match the signed payload", nil)
	}

	sel := &selection{
		chain:             cmp.Or(env.Blockchain, p.Blockchain, p.Currency),
		network:           cmp.Or(env.Network, p.Network),
		walletPaths:       paths,
		internalAddresses: len(p.LinkedInternalAddresses),
	}
	return sel, nil
}

func walletPaths(ws []LinkedWallet) []string {
	paths := make([]string, 0, len(ws))
	for _, w := range ws {
		paths = append(paths, w.Path)
	}
	return paths
}

func internalIDs(as []LinkedInternalAddress) []string {
	ids := make([]string, 0, len(as))
	for _, a := range as {
		ids = append(ids, a.ID+"|"+a.Address)
	}
	return ids
}

// parsePayload maps the verified payload string onto out. The structured
// signed payload is never consulted.
func parsePayload(kind Kind, env *Envelope, out chained) error {
	payload := env.Metadata.PayloadAsString
	if err := validatePayload(kind, payload); err != nil {
		return verrors.Integrity(StepParsePayload, "payload does not match schema", err)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return verrors.Integrity(StepParsePayload, "payload is not valid JSON", err)
	}
	if chain := out.chain(); chain != "" && env.Blockchain != "" && chain != env.Blockchain {
		return verrors.Integrity(StepParsePayload,
			fmt.Sprintf("payload blockchain %q does not match envelope %q", chain, env.Blockchain), nil)
	}
	if network := out.network(); network != "" && env.Network != "" && network != env.Network {
		return verrors.Integrity(StepParsePayload,
			fmt.Sprintf("payload network %q does not match envelope %q", network, env.Network), nil)
	}
	return nil
}
