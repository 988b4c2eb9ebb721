// Package webpush builds VAPID-authenticated, aes128gcm-encrypted Web Push
// requests (RFC 8291, RFC 8292) without a third-party push library.
package webpush

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("webpush: malformed base64url input")

	// ErrInvalidSubscriptionKey reports subscriber key material of the wrong
	// length or format. It only affects the one subscription it came from.
	ErrInvalidSubscriptionKey = errors.New("webpush: invalid subscription key")

	// ErrInvalidEndpoint reports a subscription endpoint that is not an
	// absolute URL.
	ErrInvalidEndpoint = errors.New("webpush: invalid subscription endpoint")

	// ErrSigning reports a VAPID JWT that could not be produced. Without a
	// working signer nothing can be sent, so callers treat it as fatal.
	ErrSigning = errors.New("webpush: vapid signing failed")

	// ErrPayloadTooLarge is returned when the payload does not fit in a
	// single 4096 byte record.
	ErrPayloadTooLarge = errors.New("webpush: payload too large")
)

// DecodeError describes a base64url string that could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("webpush: decode base64url: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
