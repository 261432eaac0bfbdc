package whitelist_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/governance"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/governancetest"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/whitelist"
)

const addressPayload = `{"blockchain":"ETH","network":"mainnet","address":"0x8ba1f109551bD432803012645Ac136ddd64DBA72","label":"treasury","addressType":"individual","linkedInternalAddresses":[],"linkedWallets":[]}`

type fixture struct {
	gov     *governancetest.Governance
	counter *governancetest.CountingVerifier
	v       *whitelist.Verifier
	spans   *tracetest.SpanRecorder
	metrics *sdkmetric.ManualReader
}

// newFixture sets up a 2-of-3 Compliance group approving ETH mainnet
// addresses, with 2-of-2 SuperAdmins over the rules container.
func newFixture(t *testing.T, opts ...whitelist.Option) *fixture {
	t.Helper()
	g, err := governancetest.New().
		WithSuperAdmins(2).
		WithUsers("alice", "bob", "carol", "dave").
		WithGroup("compliance", "alice", "bob", "carol").
		WithGroup("hot-wallet", "dave").
		WithAddressRules("ETH", "mainnet", governancetest.Path(governancetest.Need("compliance", 2))).
		WithAddressRuleLine("m/44/60/0", governancetest.Path(governancetest.Need("hot-wallet", 1))).
		WithContractRules("ETH", "mainnet", governancetest.Path(governancetest.Need("compliance", 2))).
		Build()
	require.NoError(t, err)

	counter := &governancetest.CountingVerifier{}
	rv, err := governance.NewRulesVerifierFromPEM(g.SuperAdminPEMs(), 2, governance.WithVerifier(counter))
	require.NoError(t, err)

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	all := append([]whitelist.Option{
		whitelist.WithEvaluator(governance.NewEvaluator(governance.WithVerifier(counter))),
		whitelist.WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))),
		whitelist.WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
	}, opts...)
	v, err := whitelist.NewVerifier(rv, all...)
	require.NoError(t, err)
	return &fixture{gov: g, counter: counter, v: v, spans: spans, metrics: reader}
}

func (f *fixture) envelope(t *testing.T, payload string, signers ...string) *whitelist.Envelope {
	t.Helper()
	env, err := f.gov.Envelope(payload, governancetest.EnvelopeOptions{
		Blockchain: "ETH",
		Network:    "mainnet",
		Signers:    signers,
	})
	require.NoError(t, err)
	return env
}

func TestVerifyAddress_TwoOfThreeCompliance(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(t, addressPayload, "alice", "carol")

	res, err := f.v.VerifyAddress(context.Background(), env)
	require.NoError(t, err)

	var want whitelist.WhitelistedAddress
	require.NoError(t, json.Unmarshal([]byte(addressPayload), &want))
	assert.Equal(t, &want, res.Address)
	assert.Equal(t, env.Metadata.Hash, res.VerifiedHash)
	require.NotNil(t, res.Container)
	_, ok := res.Container.Group("compliance")
	assert.True(t, ok)
}

func TestVerifyAddress_InsufficientApprovalsIsWhitelistError(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(t, addressPayload, "alice")

	_, err := f.v.VerifyAddress(context.Background(), env)
	require.Error(t, err)
	assert.True(t, verrors.IsWhitelist(err))
	assert.False(t, verrors.IsIntegrity(err))
	assert.Equal(t, whitelist.StepWhitelistSignatures, verrors.StepOf(err))
}

func TestVerifyAddress_HashMismatchStopsBeforeAnyCryptography(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(t, addressPayload, "alice", "bob")
	env.Metadata.Hash = crypto.Sha256HexString(addressPayload + " ")

	_, err := f.v.VerifyAddress(context.Background(), env)
	require.Error(t, err)
	assert.True(t, verrors.IsIntegrity(err))
	assert.Equal(t, whitelist.StepMetadataHash, verrors.StepOf(err))
	assert.Zero(t, f.counter.Calls())
}

func TestVerifyAddress_TamperedPayloadString(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(t, addressPayload, "alice", "bob")
	env.Metadata.PayloadAsString = `{"blockchain":"ETH","network":"mainnet","address":"0xattacker"}`

	_, err := f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsIntegrity(err))
	assert.Equal(t, whitelist.StepMetadataHash, verrors.StepOf(err))
}

func TestVerifyAddress_StructuredPayloadIsIgnored(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(t, addressPayload, "alice", "bob")
	env.SignedPayload.Payload = `{"address":"0xattacker"}`

	res, err := f.v.VerifyAddress(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, "0x8ba1f109551bD432803012645Ac136ddd64DBA72", res.Address.Address)
}

func TestVerifyAddress_SuperAdminFailureIsIntegrityError(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(t, addressPayload, "alice", "bob")
	env.RulesSignatures = env.RulesSignatures[:1]

	_, err := f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsIntegrity(err))
	assert.Equal(t, whitelist.StepRulesSignatures, verrors.StepOf(err))
}

func TestVerifyAddress_HashNotCovered(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(t, addressPayload)
	sig, err := f.gov.SignHashes("alice", "unrelated")
	require.NoError(t, err)
	env.SignedPayload.Signatures = []rules.UserSignature{sig}

	_, err = f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsIntegrity(err))
	assert.Equal(t, whitelist.StepHashCoverage, verrors.StepOf(err))
}

func TestVerifyAddress_LegacyHashVariant(t *testing.T) {
	f := newFixture(t)
	payload := `{"blockchain":"ETH","network":"mainnet","address":"0xabc","label":"top","contractType":"ERC20","linkedInternalAddresses":[{"id":"1","address":"0xdef","label":"ops"}]}`
	legacy := `{"blockchain":"ETH","network":"mainnet","address":"0xabc","label":"top","linkedInternalAddresses":[{"id":"1","address":"0xdef"}]}`
	legacyHash := crypto.Sha256HexString(legacy)

	env := f.envelope(t, payload)
	for _, u := range []string{"alice", "bob"} {
		sig, err := f.gov.SignHashes(u, legacyHash)
		require.NoError(t, err)
		env.SignedPayload.Signatures = append(env.SignedPayload.Signatures, sig)
	}

	res, err := f.v.VerifyAddress(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, legacyHash, res.VerifiedHash)
	assert.Equal(t, "0xabc", res.Address.Address)
	assert.Equal(t, "top", res.Address.Label)
}

func TestVerifyAddress_RuleLineForSingleWallet(t *testing.T) {
	f := newFixture(t)
	payload := `{"blockchain":"ETH","network":"mainnet","address":"0x8ba1f109551bD432803012645Ac136ddd64DBA72","linkedInternalAddresses":[],"linkedWallets":[{"id":"w1","path":"m/44/60/0"}]}`
	env, err := f.gov.Envelope(payload, governancetest.EnvelopeOptions{
		Blockchain:  "ETH",
		Network:     "mainnet",
		Signers:     []string{"dave"},
		WalletPaths: []string{"m/44/60/0"},
	})
	require.NoError(t, err)

	res, err := f.v.VerifyAddress(context.Background(), env)
	require.NoError(t, err)
	require.Len(t, res.Address.LinkedWallets, 1)

	// The signed payload alone selects the line.
	env.LinkedWallets = nil
	_, err = f.v.VerifyAddress(context.Background(), env)
	require.NoError(t, err)

	env.LinkedWallets = []whitelist.LinkedWallet{{ID: "w1", Path: "m/44/60/1"}}
	_, err = f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsIntegrity(err))

	// A linked internal address disables the override.
	payload = `{"blockchain":"ETH","network":"mainnet","address":"0x8ba1f109551bD432803012645Ac136ddd64DBA72","linkedInternalAddresses":[{"id":"a1","address":"0xinternal"}],"linkedWallets":[{"id":"w1","path":"m/44/60/0"}]}`
	env, err = f.gov.Envelope(payload, governancetest.EnvelopeOptions{
		Blockchain:        "ETH",
		Network:           "mainnet",
		Signers:           []string{"dave"},
		WalletPaths:       []string{"m/44/60/0"},
		InternalAddresses: []string{"0xinternal"},
	})
	require.NoError(t, err)
	_, err = f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsWhitelist(err))
}

func TestVerifyAddress_InjectedWalletCannotSelectRuleLine(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(t, addressPayload, "dave")

	_, err := f.v.VerifyAddress(context.Background(), env)
	require.True(t, verrors.IsWhitelist(err))

	env.LinkedWallets = []whitelist.LinkedWallet{{ID: "w1", Path: "m/44/60/0"}}
	_, err = f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsIntegrity(err))
	assert.Equal(t, whitelist.StepWhitelistSignatures, verrors.StepOf(err))

	env.LinkedWallets = nil
	env.LinkedInternalAddresses = []whitelist.LinkedInternalAddress{{ID: "a1"}}
	_, err = f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsIntegrity(err))
}

func TestVerifyAddress_NoRulesForBlockchain(t *testing.T) {
	f := newFixture(t)
	payload := `{"blockchain":"SOL","network":"mainnet","address":"So1"}`
	env, err := f.gov.Envelope(payload, governancetest.EnvelopeOptions{
		Blockchain: "SOL",
		Network:    "mainnet",
		Signers:    []string{"alice", "bob"},
	})
	require.NoError(t, err)

	_, err = f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsWhitelist(err))
}

func TestVerifyAddress_EnvelopeRoutingMustMatchPayload(t *testing.T) {
	f := newFixture(t)
	payload := `{"blockchain":"BTC","network":"mainnet","address":"bc1q"}`
	env := f.envelope(t, payload, "alice", "bob")

	_, err := f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsIntegrity(err))
	assert.Equal(t, whitelist.StepParsePayload, verrors.StepOf(err))
}

func TestVerifyAddress_SchemaViolation(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(t, `{"blockchain":"ETH","network":"mainnet","label":"no address"}`, "alice", "bob")

	_, err := f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsIntegrity(err))
	assert.Equal(t, whitelist.StepParsePayload, verrors.StepOf(err))
}

func TestVerifyAddress_NilEnvelope(t *testing.T) {
	f := newFixture(t)
	_, err := f.v.VerifyAddress(context.Background(), nil)
	assert.True(t, verrors.IsIntegrity(err))
}

func TestVerifyAsset(t *testing.T) {
	f := newFixture(t)
	payload := `{"blockchain":"ETH","network":"mainnet","contractAddress":"0xdAC17F958D2ee523a2206206994597C13D831ec7","name":"Tether USD","symbol":"USDT","decimals":6,"kind":"ERC20"}`

	env := f.envelope(t, payload, "alice", "bob")
	res, err := f.v.VerifyAsset(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, "USDT", res.Asset.Symbol)
	assert.Equal(t, 6, res.Asset.Decimals)
	assert.Equal(t, env.Metadata.Hash, res.VerifiedHash)

	// Assets have no coverage step: an uncovered hash fails the thresholds.
	env = f.envelope(t, payload)
	sig, err := f.gov.SignHashes("alice", "unrelated")
	require.NoError(t, err)
	env.SignedPayload.Signatures = []rules.UserSignature{sig}
	_, err = f.v.VerifyAsset(context.Background(), env)
	assert.True(t, verrors.IsWhitelist(err))
}

func TestVerify_JSONRulesContainer(t *testing.T) {
	g, err := governancetest.New().
		WithUsers("alice", "bob").
		WithGroup("compliance", "alice", "bob").
		WithAddressRules("ETH", "", governancetest.Path(governancetest.Need("compliance", 2))).
		WithJSONEncoding().
		Build()
	require.NoError(t, err)
	rv, err := governance.NewRulesVerifierFromPEM(g.SuperAdminPEMs(), 2)
	require.NoError(t, err)
	v, err := whitelist.NewVerifier(rv)
	require.NoError(t, err)

	env, err := g.Envelope(addressPayload, governancetest.EnvelopeOptions{
		Blockchain: "ETH",
		Network:    "mainnet",
		Signers:    []string{"alice", "bob"},
	})
	require.NoError(t, err)
	_, err = v.VerifyAddress(context.Background(), env)
	require.NoError(t, err)
}

func TestVerify_DecodeCacheDoesNotSkipSuperAdminCheck(t *testing.T) {
	f := newFixture(t, whitelist.WithDecodeCache(4))
	env := f.envelope(t, addressPayload, "alice", "bob")

	_, err := f.v.VerifyAddress(context.Background(), env)
	require.NoError(t, err)
	_, err = f.v.VerifyAddress(context.Background(), env)
	require.NoError(t, err)

	env.RulesSignatures = nil
	_, err = f.v.VerifyAddress(context.Background(), env)
	assert.True(t, verrors.IsIntegrity(err))
}

func TestNewVerifier_NilProvidersKeepDefaults(t *testing.T) {
	f := newFixture(t)
	rv, err := governance.NewRulesVerifierFromPEM(f.gov.SuperAdminPEMs(), 2)
	require.NoError(t, err)

	v, err := whitelist.NewVerifier(rv, whitelist.WithTracerProvider(nil), whitelist.WithMeterProvider(nil))
	require.NoError(t, err)
	_, err = v.VerifyAddress(context.Background(), f.envelope(t, addressPayload, "alice", "bob"))
	require.NoError(t, err)
}

func TestVerify_RecordsSpansAndCounters(t *testing.T) {
	f := newFixture(t)
	_, err := f.v.VerifyAddress(context.Background(), f.envelope(t, addressPayload, "alice", "bob"))
	require.NoError(t, err)
	_, err = f.v.VerifyAddress(context.Background(), f.envelope(t, addressPayload, "alice"))
	require.Error(t, err)

	var names []string
	for _, s := range f.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "whitelist.verify")
	assert.Contains(t, names, "whitelist."+whitelist.StepMetadataHash)
	assert.Contains(t, names, "whitelist."+whitelist.StepHashCoverage)
	assert.Contains(t, names, "whitelist."+whitelist.StepParsePayload)

	var rm metricdata.ResourceMetrics
	require.NoError(t, f.metrics.Collect(context.Background(), &rm))
	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "protect.verification.total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				outcomes[outcome.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"verified": 1, "whitelist_error": 1}, outcomes)
}
