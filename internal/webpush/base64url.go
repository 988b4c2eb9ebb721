package webpush

import (
	"encoding/base64"
	"strings"
)

var toStdAlphabet = strings.NewReplacer("-", "+", "_", "/")

// Decode decodes URL-safe base64. Missing padding is tolerated and so is
// input already written in the standard alphabet, since browsers and key
// generators disagree on both.
func Decode(s string) ([]byte, error) {
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	b, err := base64.StdEncoding.DecodeString(toStdAlphabet.Replace(s))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return b, nil
}

// Encode returns the unpadded URL-safe base64 encoding of b.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
