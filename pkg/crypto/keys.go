package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKey is returned for key material that cannot be parsed.
	ErrInvalidKey = errors.New("crypto: invalid key")
	// ErrUnsupportedCurve is returned for keys that are not on P-256.
	ErrUnsupportedCurve = errors.New("crypto: key is not on curve P-256")
	// ErrMalformedSignature is returned when a signature cannot be decoded
	// into a 64-byte r||s value. It is distinct from a signature that decodes
	// fine but does not verify.
	ErrMalformedSignature = errors.New("crypto: malformed signature")
)

// ParsePublicKey accepts a PEM block ("PUBLIC KEY") or bare DER
// SubjectPublicKeyInfo and returns the P-256 key it holds.
func ParsePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "PUBLIC KEY" {
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidKey, block.Type)
		}
		der = block.Bytes
	} else if strings.Contains(string(data), "-----BEGIN") {
		return nil, fmt.Errorf("%w: unreadable PEM", ErrInvalidKey)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedCurve, parsed)
	}
	if err := CheckP256(pub); err != nil {
		return nil, err
	}
	return pub, nil
}

// ParsePublicKeyPEM is ParsePublicKey for PEM text.
func ParsePublicKeyPEM(s string) (*ecdsa.PublicKey, error) {
	return ParsePublicKey([]byte(s))
}

// ParsePrivateKeyPEM reads an "EC PRIVATE KEY" (SEC 1) or "PRIVATE KEY"
// (PKCS #8) block holding a P-256 key.
func ParsePrivateKeyPEM(s string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}

	var priv *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		priv = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		ec, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrUnsupportedCurve, k)
		}
		priv = ec
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidKey, block.Type)
	}

	if err := CheckP256(&priv.PublicKey); err != nil {
		return nil, err
	}
	return priv, nil
}

// EncodePublicKeyPEM renders pub as a "PUBLIC KEY" PEM block.
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) (string, error) {
	if err := CheckP256(pub); err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// EncodePrivateKeyPEM renders priv as an "EC PRIVATE KEY" PEM block.
func EncodePrivateKeyPEM(priv *ecdsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("%w: nil private key", ErrInvalidKey)
	}
	if err := CheckP256(&priv.PublicKey); err != nil {
		return "", err
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// CheckP256 rejects nil keys, keys on other curves and points that are not on
// the curve.
func CheckP256(pub *ecdsa.PublicKey) error {
	if pub == nil || pub.Curve == nil || pub.X == nil || pub.Y == nil {
		return fmt.Errorf("%w: nil public key", ErrInvalidKey)
	}
	if pub.Curve.Params().Name != elliptic.P256().Params().Name {
		return fmt.Errorf("%w: got %s", ErrUnsupportedCurve, pub.Curve.Params().Name)
	}
	if _, err := pub.ECDH(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}
