package governancetest

import (
	"crypto/ecdsa"
	"sync/atomic"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
)

// CountingVerifier is a P-256 verifier that counts its calls.
type CountingVerifier struct {
	calls atomic.Int64
}

func (v *CountingVerifier) Verify(pub *ecdsa.PublicKey, data []byte, signature string) (bool, error) {
	v.calls.Add(1)
	return crypto.VerifyP256(pub, data, signature)
}

// Calls returns the number of Verify calls so far.
func (v *CountingVerifier) Calls() int64 {
	return v.calls.Load()
}
