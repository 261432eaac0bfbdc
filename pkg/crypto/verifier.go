package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// SignatureVerifier checks a base64 raw r||s signature over data. A false
// result with a nil error is a cryptographic mismatch; an error wrapping
// ErrMalformedSignature means the signature could not be decoded at all.
type SignatureVerifier interface {
	Verify(pub *ecdsa.PublicKey, data []byte, signature string) (bool, error)
}

// P256Verifier is the default SignatureVerifier.
type P256Verifier struct{}

func (P256Verifier) Verify(pub *ecdsa.PublicKey, data []byte, signature string) (bool, error) {
	return VerifyP256(pub, data, signature)
}

// VerifyP256 verifies base64(r||s) over SHA-256(data) with pub.
func VerifyP256(pub *ecdsa.PublicKey, data []byte, signature string) (bool, error) {
	if err := CheckP256(pub); err != nil {
		return false, err
	}
	raw, err := DecodeSignature(signature)
	if err != nil {
		return false, err
	}
	r, s, err := scalarsFromRaw(raw)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(data)
	return ecdsa.Verify(pub, digest[:], r, s), nil
}

// DecodeSignature base64-decodes a signature and enforces the 64-byte length.
func DecodeSignature(signature string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(raw) != P256SignatureSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, P256SignatureSize, len(raw))
	}
	return raw, nil
}
