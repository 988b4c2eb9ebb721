package webpush

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"testing"
)

func TestDERToRawStripsAndPads(t *testing.T) {
	// r has its high bit set, so DER prefixes it with 0x00 (33 bytes).
	r := bytes.Repeat([]byte{0xa5}, 32)
	// s is only 31 bytes long and must be left padded.
	s := bytes.Repeat([]byte{0x3c}, 31)

	der := []byte{0x30, 0x44, 0x02, 0x21, 0x00}
	der = append(der, r...)
	der = append(der, 0x02, 0x1f)
	der = append(der, s...)

	got, err := DERToRaw(der)
	if err != nil {
		t.Fatalf("DERToRaw: %v", err)
	}
	if len(got) != RawSignatureSize {
		t.Fatalf("len = %d, want %d", len(got), RawSignatureSize)
	}
	if !bytes.Equal(got[:32], r) {
		t.Errorf("r = %x, want %x", got[:32], r)
	}
	wantS := append([]byte{0x00}, s...)
	if !bytes.Equal(got[32:], wantS) {
		t.Errorf("s = %x, want %x", got[32:], wantS)
	}
}

func TestDERToRawShortComponents(t *testing.T) {
	der := []byte{0x30, 0x06, 0x02, 0x01, 0x07, 0x02, 0x01, 0x09}
	got, err := DERToRaw(der)
	if err != nil {
		t.Fatalf("DERToRaw: %v", err)
	}
	want := make([]byte, RawSignatureSize)
	want[31] = 0x07
	want[63] = 0x09
	if !bytes.Equal(got, want) {
		t.Errorf("DERToRaw = %x, want %x", got, want)
	}
}

func TestDERToRawRejectsRawSignature(t *testing.T) {
	raw := bytes.Repeat([]byte{0x01}, RawSignatureSize)
	if got, err := DERToRaw(raw); err == nil {
		t.Errorf("DERToRaw(64 raw bytes) = %x, want error", got)
	}
}

func TestDERToRawMalformed(t *testing.T) {
	tests := map[string][]byte{
		"empty":           nil,
		"truncated":       {0x30, 0x03, 0x02, 0x01},
		"not a sequence":  {0x31, 0x06, 0x02, 0x01, 0x07, 0x02, 0x01, 0x09},
		"single integer":  {0x30, 0x03, 0x02, 0x01, 0x07},
		"trailing data":   {0x30, 0x06, 0x02, 0x01, 0x07, 0x02, 0x01, 0x09, 0x00},
		"negative r":      {0x30, 0x06, 0x02, 0x01, 0x87, 0x02, 0x01, 0x09},
		"zero s":          {0x30, 0x06, 0x02, 0x01, 0x07, 0x02, 0x01, 0x00},
		"r wider than 32": append(append([]byte{0x30, 0x26, 0x02, 0x21}, bytes.Repeat([]byte{0x11}, 33)...), 0x02, 0x01, 0x09),
	}
	for name, der := range tests {
		t.Run(name, func(t *testing.T) {
			if got, err := DERToRaw(der); err == nil {
				t.Errorf("DERToRaw(%x) = %x, want error", der, got)
			}
		})
	}
}

func TestDERToRawVerifies(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	for i := range 64 {
		digest := sha256.Sum256([]byte{byte(i)})
		der, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
		if err != nil {
			t.Fatalf("SignASN1: %v", err)
		}
		raw, err := DERToRaw(der)
		if err != nil {
			t.Fatalf("DERToRaw(%x): %v", der, err)
		}
		r := new(big.Int).SetBytes(raw[:32])
		s := new(big.Int).SetBytes(raw[32:])
		if !ecdsa.Verify(&key.PublicKey, digest[:], r, s) {
			t.Fatalf("raw signature %x does not verify", raw)
		}
	}
}
