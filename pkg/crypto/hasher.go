// Package crypto holds the cryptographic primitives the verification engine is
// built on: SHA-256 hex digests, ECDSA P-256 signatures in raw r||s form, PEM
// key codecs and constant-time comparison.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sha256Hex returns the lowercase hex SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sha256HexString hashes the UTF-8 bytes of s.
func Sha256HexString(s string) string {
	return Sha256Hex([]byte(s))
}

// ConstantTimeEqual reports whether a and b hold the same bytes. Inputs of
// different length compare unequal without inspecting their content.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeEqualString is ConstantTimeEqual over the bytes of two strings.
func ConstantTimeEqualString(a, b string) bool {
	return ConstantTimeEqual([]byte(a), []byte(b))
}
