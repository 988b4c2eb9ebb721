package webpush

import (
	"errors"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const (
	// componentSize is the width of r and s for P-256.
	componentSize = 32
	// RawSignatureSize is the length of an r||s signature.
	RawSignatureSize = 2 * componentSize
)

var errMalformedDER = errors.New("malformed DER ecdsa signature")

// DERToRaw converts an ASN.1 DER ECDSA-Sig-Value into the fixed width r||s
// form JWS requires. Integers are read with a strict DER parser, so the sign
// padding byte is dropped and short components are left padded with zeros.
// Anything that is not a valid DER sequence of two positive integers is an
// error, whatever its length.
func DERToRaw(sig []byte) ([]byte, error) {
	var (
		inner cryptobyte.String
		r, s  = new(big.Int), new(big.Int)
	)
	input := cryptobyte.String(sig)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return nil, errMalformedDER
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 8*componentSize || s.BitLen() > 8*componentSize {
		return nil, errMalformedDER
	}

	out := make([]byte, RawSignatureSize)
	r.FillBytes(out[:componentSize])
	s.FillBytes(out[componentSize:])
	return out, nil
}
