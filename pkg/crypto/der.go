package crypto

import (
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// P256SignatureSize is the length of a raw r||s signature on P-256.
const P256SignatureSize = 64

const p256ScalarSize = 32

// RawFromDER converts an ASN.1 DER ECDSA signature (as emitted by
// ecdsa.SignASN1, most HSMs and cloud KMS) into the 64-byte r||s form.
func RawFromDER(der []byte) ([]byte, error) {
	r, s := new(big.Int), new(big.Int)
	var inner cryptobyte.String
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return nil, fmt.Errorf("%w: invalid DER encoding", ErrMalformedSignature)
	}
	return rawFromScalars(r, s)
}

// DERFromRaw converts a 64-byte r||s signature into ASN.1 DER.
func DERFromRaw(raw []byte) ([]byte, error) {
	r, s, err := scalarsFromRaw(raw)
	if err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return out, nil
}

func rawFromScalars(r, s *big.Int) ([]byte, error) {
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 8*p256ScalarSize || s.BitLen() > 8*p256ScalarSize {
		return nil, fmt.Errorf("%w: scalar out of range", ErrMalformedSignature)
	}
	out := make([]byte, P256SignatureSize)
	r.FillBytes(out[:p256ScalarSize])
	s.FillBytes(out[p256ScalarSize:])
	return out, nil
}

func scalarsFromRaw(raw []byte) (*big.Int, *big.Int, error) {
	if len(raw) != P256SignatureSize {
		return nil, nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, P256SignatureSize, len(raw))
	}
	r := new(big.Int).SetBytes(raw[:p256ScalarSize])
	s := new(big.Int).SetBytes(raw[p256ScalarSize:])
	return r, s, nil
}
