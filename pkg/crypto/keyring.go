package crypto

import (
	"crypto/ecdsa"
	"fmt"
)

// KeyRing is an ordered set of trusted public keys. A signature is accepted
// if any key in the ring verifies it; keys are not matched by identity.
type KeyRing struct {
	keys     []*ecdsa.PublicKey
	verifier SignatureVerifier
}

// NewKeyRing validates every key and returns a ring using verifier (the
// default P256Verifier when nil).
func NewKeyRing(keys []*ecdsa.PublicKey, verifier SignatureVerifier) (*KeyRing, error) {
	if verifier == nil {
		verifier = P256Verifier{}
	}
	ring := &KeyRing{verifier: verifier, keys: make([]*ecdsa.PublicKey, 0, len(keys))}
	for i, k := range keys {
		if err := CheckP256(k); err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		ring.keys = append(ring.keys, k)
	}
	return ring, nil
}

// NewKeyRingFromPEM parses each PEM string into a P-256 key.
func NewKeyRingFromPEM(pems []string, verifier SignatureVerifier) (*KeyRing, error) {
	keys := make([]*ecdsa.PublicKey, 0, len(pems))
	for i, p := range pems {
		k, err := ParsePublicKeyPEM(p)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, k)
	}
	return NewKeyRing(keys, verifier)
}

// Len returns the number of keys in the ring.
func (k *KeyRing) Len() int {
	return len(k.keys)
}

// Verify tries every key in order and reports whether one of them verifies
// the signature. A malformed signature fails before any key is tried.
func (k *KeyRing) Verify(data []byte, signature string) (bool, error) {
	i, err := k.Match(data, signature)
	return i >= 0, err
}

// Match returns the index of the first key that verifies the signature, or
// -1 when none does.
func (k *KeyRing) Match(data []byte, signature string) (int, error) {
	if _, err := DecodeSignature(signature); err != nil {
		return -1, err
	}
	for i, pub := range k.keys {
		ok, err := k.verifier.Verify(pub, data, signature)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}
