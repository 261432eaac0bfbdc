package whitelist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
)

// Metadata carries the payload string and the hash the server claims for it.
type Metadata struct {
	Hash            string `json:"hash"`
	PayloadAsString string `json:"payloadAsString"`
}

// SignedPayload holds the user approvals. Payload is informational only and
// is never parsed; the domain object always comes from the hashed string.
type SignedPayload struct {
	Payload    string                `json:"payload,omitempty"`
	Signatures []rules.UserSignature `json:"signatures"`
}

// LinkedWallet is an internal wallet the whitelisted entry is linked to.
type LinkedWallet struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Label string `json:"label,omitempty"`
}

// LinkedInternalAddress is an internal address the entry is linked to.
type LinkedInternalAddress struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
	Label   string `json:"label,omitempty"`
}

// RulesSignatures are the SuperAdmin signatures over the rules container.
// On the wire they are either a JSON array or a base64 UserSignatures batch.
type RulesSignatures []rules.UserSignature

func (s *RulesSignatures) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*s = nil
		return nil
	case strings.HasPrefix(trimmed, "\""):
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		sigs, err := rules.DecodeUserSignatures(encoded)
		if err != nil {
			return err
		}
		*s = sigs
		return nil
	case strings.HasPrefix(trimmed, "["):
		var sigs []rules.UserSignature
		if err := json.Unmarshal(data, &sigs); err != nil {
			return err
		}
		*s = sigs
		return nil
	default:
		return fmt.Errorf("rulesSignatures: expected array or base64 string")
	}
}

// Envelope is a signed whitelisted address or asset as returned by the API.
// It is read, never modified, by verification.
type Envelope struct {
	Metadata                Metadata                `json:"metadata"`
	RulesContainer          string                  `json:"rulesContainer"`
	RulesSignatures         RulesSignatures         `json:"rulesSignatures"`
	SignedPayload           SignedPayload           `json:"signedAddress"`
	LinkedWallets           []LinkedWallet          `json:"linkedWallets,omitempty"`
	LinkedInternalAddresses []LinkedInternalAddress `json:"linkedInternalAddresses,omitempty"`
	Blockchain              string                  `json:"blockchain"`
	Network                 string                  `json:"network"`
}

// UnmarshalJSON accepts the signed payload under "signedAddress",
// "signedContractAddress" or "signedPayload".
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	var aux struct {
		plain
		SignedContractAddress *SignedPayload `json:"signedContractAddress"`
		SignedPayloadAlt      *SignedPayload `json:"signedPayload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Envelope(aux.plain)
	if len(e.SignedPayload.Signatures) == 0 && e.SignedPayload.Payload == "" {
		switch {
		case aux.SignedContractAddress != nil:
			e.SignedPayload = *aux.SignedContractAddress
		case aux.SignedPayloadAlt != nil:
			e.SignedPayload = *aux.SignedPayloadAlt
		}
	}
	return nil
}
