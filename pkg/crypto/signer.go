package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Signer produces base64 raw r||s P-256 signatures.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() *ecdsa.PublicKey
}

// P256Signer signs with an in-memory P-256 private key.
type P256Signer struct {
	privKey *ecdsa.PrivateKey
	KeyID   string
}

// NewP256Signer generates a fresh key pair.
func NewP256Signer(keyID string) (*P256Signer, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &P256Signer{privKey: priv, KeyID: keyID}, nil
}

// NewP256SignerFromKey wraps an existing private key.
func NewP256SignerFromKey(priv *ecdsa.PrivateKey, keyID string) (*P256Signer, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrInvalidKey)
	}
	if err := CheckP256(&priv.PublicKey); err != nil {
		return nil, err
	}
	return &P256Signer{privKey: priv, KeyID: keyID}, nil
}

func (s *P256Signer) Sign(data []byte) (string, error) {
	return SignP256(s.privKey, data)
}

func (s *P256Signer) PublicKey() *ecdsa.PublicKey {
	return &s.privKey.PublicKey
}

// PublicKeyPEM returns the public half as PEM text.
func (s *P256Signer) PublicKeyPEM() (string, error) {
	return EncodePublicKeyPEM(&s.privKey.PublicKey)
}

// PrivateKey exposes the key for fixtures that need to persist it.
func (s *P256Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.privKey
}

// SignP256 signs SHA-256(data) and returns base64(r||s).
func SignP256(priv *ecdsa.PrivateKey, data []byte) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("%w: nil private key", ErrInvalidKey)
	}
	if err := CheckP256(&priv.PublicKey); err != nil {
		return "", err
	}
	digest := sha256.Sum256(data)
	der, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	raw, err := RawFromDER(der)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
