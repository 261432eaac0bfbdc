package rules

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
)

// StepDecodeSignatures names the decoding of a batched signature blob.
const StepDecodeSignatures = "decode_signatures"

// UserSignature is a user's approval. Signature is base64 raw r||s over the
// canonical JSON array of Hashes; it covers exactly the hashes listed.
type UserSignature struct {
	UserID    string   `json:"userId"`
	Signature string   `json:"signature"`
	Comment   string   `json:"comment,omitempty"`
	Hashes    []string `json:"hashes"`
}

// Covers reports whether hash is literally listed in the signature.
func (s *UserSignature) Covers(hash string) bool {
	return slices.Contains(s.Hashes, hash)
}

// UnmarshalJSON accepts camelCase and snake_case field names, and the
// envelope form where user ID, signature and comment are nested under a
// "signature" object next to "hashes".
func (s *UserSignature) UnmarshalJSON(data []byte) error {
	o, err := parseObject(data)
	if err != nil {
		return err
	}
	return s.fromObject(o)
}

func (s *UserSignature) fromObject(o jsonObject) error {
	var err error
	inner := o
	if raw, ok := o.get("signature"); ok && strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		if inner, err = o.object("signature"); err != nil {
			return err
		}
	}
	if s.UserID, err = inner.string("userId"); err != nil {
		return err
	}
	if s.Signature, err = inner.string("signature"); err != nil {
		return err
	}
	if s.Comment, err = inner.string("comment"); err != nil {
		return err
	}
	if s.Hashes, err = o.strings("hashes"); err != nil {
		return err
	}
	if s.Hashes == nil {
		if s.Hashes, err = inner.strings("hashes"); err != nil {
			return err
		}
	}
	return nil
}

// DecodeUserSignatures decodes a base64 UserSignatures batch, protobuf
// first and JSON (an array, or an object with "signatures") second.
func DecodeUserSignatures(encoded string) ([]UserSignature, error) {
	if strings.TrimSpace(encoded) == "" {
		return []UserSignature{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, verrors.Integrity(StepDecodeSignatures, "invalid base64", err)
	}
	if len(raw) == 0 {
		return []UserSignature{}, nil
	}

	sigs, protoErr := decodeProtoSignatures(raw)
	if protoErr == nil {
		return sigs, nil
	}
	sigs, jsonErr := decodeJSONSignatures(raw)
	if jsonErr == nil {
		return sigs, nil
	}
	return nil, verrors.Integrity(StepDecodeSignatures, "not valid protobuf or JSON", errors.Join(protoErr, jsonErr))
}

func decodeProtoSignatures(b []byte) ([]UserSignature, error) {
	m, err := unmarshal(msgUserSignatures, b)
	if err != nil {
		return nil, err
	}
	out := []UserSignature{}
	for _, sm := range m.msgs("signatures") {
		s := UserSignature{
			UserID:  sm.str("user_id"),
			Comment: sm.str("comment"),
			Hashes:  sm.strs("hashes"),
		}
		if raw := sm.bytes("signature"); len(raw) > 0 {
			s.Signature = base64.StdEncoding.EncodeToString(raw)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errNoKnownFields
	}
	return out, nil
}

func decodeJSONSignatures(b []byte) ([]UserSignature, error) {
	if !utf8.Valid(b) {
		return nil, errors.New("invalid UTF-8")
	}
	trimmed := strings.TrimSpace(string(b))
	var sigs []UserSignature
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal([]byte(trimmed), &sigs); err != nil {
			return nil, err
		}
	case strings.HasPrefix(trimmed, "{"):
		o, err := parseObject(json.RawMessage(trimmed))
		if err != nil {
			return nil, err
		}
		items, err := o.objects("signatures")
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			var s UserSignature
			if err := s.fromObject(it); err != nil {
				return nil, err
			}
			sigs = append(sigs, s)
		}
	default:
		return nil, errNotJSONObject
	}
	if sigs == nil {
		sigs = []UserSignature{}
	}
	return sigs, nil
}

func decodeSignatureBytes(sig string) ([]byte, error) {
	if sig == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	return raw, nil
}

// SignedContainer is a rules container as served by the API: base64 bytes
// and the SuperAdmin signatures over them. Neither is trusted until verified.
type SignedContainer struct {
	RulesContainer  string          `json:"rulesContainer"`
	RulesSignatures []UserSignature `json:"rulesSignatures"`
}
