// Package addresses verifies custody addresses generated by the HSM.
package addresses

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
)

// StepAddressSignature names address signature verification in typed errors.
const StepAddressSignature = "verify_address_signature"

// Address is a custody address. Signature is base64 raw r||s by the HSM
// over the address string.
type Address struct {
	ID         string `json:"id"`
	WalletID   string `json:"walletId,omitempty"`
	Address    string `json:"address"`
	Blockchain string `json:"blockchain,omitempty"`
	Network    string `json:"network,omitempty"`
	Label      string `json:"label,omitempty"`
	Signature  string `json:"signature"`
}

// Verifier checks address signatures against the HSM key of a verified
// rules container.
type Verifier struct {
	verifier crypto.SignatureVerifier
	logger   *slog.Logger
}

// NewVerifier creates a Verifier. A nil sv uses P-256 verification.
func NewVerifier(sv crypto.SignatureVerifier, logger *slog.Logger) *Verifier {
	if sv == nil {
		sv = crypto.P256Verifier{}
	}
	if logger == nil {
		logger = slog.Default().With("component", "addresses")
	}
	return &Verifier{verifier: sv, logger: logger}
}

// Verify checks addr's signature. c must come from a verified source.
func (v *Verifier) Verify(c *rules.DecodedRulesContainer, addr *Address) error {
	if addr == nil || addr.Address == "" {
		return verrors.Integrity(StepAddressSignature, "address is empty", nil)
	}
	if addr.Signature == "" {
		return verrors.Integrity(StepAddressSignature, fmt.Sprintf("address %q is not signed", addr.ID), nil)
	}
	key, err := HSMKey(c)
	if err != nil {
		return verrors.Integrity(StepAddressSignature, "no HSM key in rules container", err)
	}
	ok, err := v.verifier.Verify(key, []byte(addr.Address), addr.Signature)
	if err != nil {
		return verrors.Integrity(StepAddressSignature, "address signature cannot be decoded", err)
	}
	if !ok {
		v.logger.Warn("address signature mismatch", "step", StepAddressSignature, "address_id", addr.ID)
		return verrors.Integrity(StepAddressSignature, fmt.Sprintf("invalid HSM signature for address %q", addr.ID), nil)
	}
	return nil
}

var errNoHSMUser = errors.New("no user with role " + rules.RoleHSMSlot)

// HSMKey returns the public key of the container's HSM slot user. With
// several HSM users, the one whose ID is the container's hsmSlotId is used.
func HSMKey(c *rules.DecodedRulesContainer) (*ecdsa.PublicKey, error) {
	if c == nil {
		return nil, errNoHSMUser
	}
	users := c.UsersWithRole(rules.RoleHSMSlot)
	var hsm *rules.RuleUser
	switch len(users) {
	case 0:
		return nil, errNoHSMUser
	case 1:
		hsm = users[0]
	default:
		slot := strconv.Itoa(c.HSMSlotID)
		for _, u := range users {
			if u.ID == slot {
				hsm = u
				break
			}
		}
		if hsm == nil {
			return nil, fmt.Errorf("%d HSM users and none matches slot %s", len(users), slot)
		}
	}
	if hsm.PublicKey == nil {
		return nil, fmt.Errorf("HSM user %q has no public key", hsm.ID)
	}
	return hsm.PublicKey, nil
}
