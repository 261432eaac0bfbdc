package governancetest

import (
	"fmt"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/whitelist"
)

// Governance is a built setup: the encoded container and every private key.
type Governance struct {
	Raw       []byte
	Encoded   string
	Container *rules.DecodedRulesContainer

	superAdmins    []*crypto.P256Signer
	superAdminPEMs []string
	users          map[string]*crypto.P256Signer
}

// SuperAdminPEMs returns the SuperAdmin public keys.
func (g *Governance) SuperAdminPEMs() []string {
	return append([]string(nil), g.superAdminPEMs...)
}

// SignRules has the first n SuperAdmins sign the container bytes.
func (g *Governance) SignRules(n int) ([]rules.UserSignature, error) {
	if n > len(g.superAdmins) {
		return nil, fmt.Errorf("only %d SuperAdmins", len(g.superAdmins))
	}
	sigs := make([]rules.UserSignature, 0, n)
	for _, s := range g.superAdmins[:n] {
		sig, err := s.Sign(g.Raw)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, rules.UserSignature{UserID: s.KeyID, Signature: sig})
	}
	return sigs, nil
}

// Signer returns a user's signer.
func (g *Governance) Signer(userID string) (*crypto.P256Signer, bool) {
	s, ok := g.users[userID]
	return s, ok
}

// SignHashes has userID approve hashes.
func (g *Governance) SignHashes(userID string, hashes ...string) (rules.UserSignature, error) {
	s, ok := g.users[userID]
	if !ok {
		return rules.UserSignature{}, fmt.Errorf("unknown user %q", userID)
	}
	payload, err := crypto.HashesPayload(hashes)
	if err != nil {
		return rules.UserSignature{}, err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return rules.UserSignature{}, err
	}
	return rules.UserSignature{UserID: userID, Signature: sig, Hashes: hashes}, nil
}

// EnvelopeOptions describes the envelope to build around a payload.
type EnvelopeOptions struct {
	Blockchain string
	Network    string
	// Signers approve sha256(payload).
	Signers []string
	// SuperAdmins is the number of SuperAdmin signatures; zero means all.
	SuperAdmins       int
	WalletPaths       []string
	InternalAddresses []string
}

// Envelope wraps payload in a fully signed envelope.
func (g *Governance) Envelope(payload string, o EnvelopeOptions) (*whitelist.Envelope, error) {
	n := o.SuperAdmins
	if n == 0 {
		n = len(g.superAdmins)
	}
	rulesSigs, err := g.SignRules(n)
	if err != nil {
		return nil, err
	}

	hash := crypto.Sha256HexString(payload)
	env := &whitelist.Envelope{
		Metadata:        whitelist.Metadata{Hash: hash, PayloadAsString: payload},
		RulesContainer:  g.Encoded,
		RulesSignatures: rulesSigs,
		Blockchain:      o.Blockchain,
		Network:         o.Network,
	}
	env.SignedPayload.Signatures = []rules.UserSignature{}
	for _, id := range o.Signers {
		sig, err := g.SignHashes(id, hash)
		if err != nil {
			return nil, err
		}
		env.SignedPayload.Signatures = append(env.SignedPayload.Signatures, sig)
	}
	for i, p := range o.WalletPaths {
		env.LinkedWallets = append(env.LinkedWallets, whitelist.LinkedWallet{ID: fmt.Sprintf("w%d", i+1), Path: p})
	}
	for i, a := range o.InternalAddresses {
		env.LinkedInternalAddresses = append(env.LinkedInternalAddresses, whitelist.LinkedInternalAddress{ID: fmt.Sprintf("a%d", i+1), Address: a})
	}
	return env, nil
}
