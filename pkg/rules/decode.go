package rules

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
)

// StepDecode names the rules container decoding step in typed errors.
const StepDecode = "decode_rules_container"

// Decode turns a base64 rules container into a DecodedRulesContainer.
// Protobuf is tried first, then the legacy JSON form. Empty input yields an
// empty container; anything else that is neither format is an IntegrityError.
func Decode(encoded string) (*DecodedRulesContainer, error) {
	raw, err := DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(raw)
}

// DecodeBytes is Decode for already base64-decoded bytes.
func DecodeBytes(raw []byte) (*DecodedRulesContainer, error) {
	if len(raw) == 0 {
		return Empty(), nil
	}
	c, protoErr := decodeProto(raw)
	if protoErr == nil {
		return c, nil
	}
	c, jsonErr := decodeJSON(raw)
	if jsonErr == nil {
		return c, nil
	}
	return nil, verrors.Integrity(StepDecode, "not valid protobuf or JSON", errors.Join(protoErr, jsonErr))
}

// DecodeBase64 returns the raw container bytes, the exact bytes the
// SuperAdmins signed.
func DecodeBase64(encoded string) ([]byte, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, verrors.Integrity(StepDecode, "invalid base64", err)
	}
	return raw, nil
}

// EncodeBase64 serializes c as base64 protobuf.
func EncodeBase64(c *DecodedRulesContainer) (string, error) {
	b, err := Encode(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
