package webpush

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const (
	saltSize       = 16
	authSecretSize = 16
	ikmSize        = 32
	cekSize        = 16
	nonceSize      = 12
	tagSize        = 16

	// HeaderSize is salt(16) || rs(4) || idlen(1) || keyid(65).
	HeaderSize = saltSize + 4 + 1 + PublicKeySize

	// MaxRecordSize is the largest body push services must accept, header
	// included.
	MaxRecordSize = 4096
	// MaxPayloadSize is the largest plaintext that fits in MaxRecordSize.
	MaxPayloadSize = MaxRecordSize - HeaderSize - 1 - tagSize
	// minRecordSize is the smallest rs RFC 8188 allows.
	minRecordSize = 18

	lastRecordDelimiter = 0x02

	DefaultTTL     = 86400
	DefaultUrgency = "normal"
)

// HKDF info strings. Each ends in 0x00; the 0x01 that follows it in the
// derivation is the HKDF-Expand block counter for the single output block.
var (
	keyInfoPrefix = []byte("WebPush: info\x00")
	cekInfo       = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo     = []byte("Content-Encoding: nonce\x00")
)

// Subscription is the key material a browser hands out on subscribe.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Options controls the headers and framing of encrypted messages.
type Options struct {
	TTL     int    // seconds; 0 selects DefaultTTL
	Urgency string // very-low, low, normal or high
	Topic   string // optional replacement topic
	// RecordSize overrides the rs header field. Zero writes the length of
	// the encrypted record.
	RecordSize int
}

// EncryptedMessage is a single-use request ready to be POSTed to Endpoint.
// Authorization is left for the caller to add.
type EncryptedMessage struct {
	Endpoint string
	Headers  http.Header
	Body     []byte
}

// Encryptor implements the aes128gcm content encoding for Web Push. It holds
// no per-message state; every call draws a fresh salt and ephemeral key.
type Encryptor struct {
	crypto CryptoProvider
	opts   Options
}

func NewEncryptor(provider CryptoProvider, opts Options) (*Encryptor, error) {
	if provider == nil {
		provider = StdCrypto{}
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("webpush: negative ttl %d", opts.TTL)
	}
	if opts.Urgency == "" {
		opts.Urgency = DefaultUrgency
	}
	switch opts.Urgency {
	case "very-low", "low", "normal", "high":
	default:
		return nil, fmt.Errorf("webpush: unknown urgency %q", opts.Urgency)
	}
	if opts.RecordSize != 0 && (opts.RecordSize < minRecordSize || opts.RecordSize > MaxRecordSize) {
		return nil, fmt.Errorf("webpush: record size %d outside [%d, %d]", opts.RecordSize, minRecordSize, MaxRecordSize)
	}
	return &Encryptor{crypto: provider, opts: opts}, nil
}

// EncryptJSON marshals v and encrypts it for sub.
func (e *Encryptor) EncryptJSON(sub Subscription, v any) (*EncryptedMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("webpush: marshal payload: %w", err)
	}
	return e.Encrypt(sub, payload)
}

// Encrypt decodes the subscription keys and builds the request for one
// payload.
func (e *Encryptor) Encrypt(sub Subscription, payload []byte) (*EncryptedMessage, error) {
	if _, err := Audience(sub.Endpoint); err != nil {
		return nil, err
	}
	uaPublic, authSecret, err := DecodeSubscriptionKeys(sub.Keys)
	if err != nil {
		return nil, err
	}
	body, err := e.EncryptBytes(uaPublic, authSecret, payload)
	if err != nil {
		return nil, err
	}

	h := make(http.Header)
	h.Set("Content-Encoding", "aes128gcm")
	h.Set("Content-Type", "application/octet-stream")
	h.Set("TTL", strconv.Itoa(e.opts.TTL))
	h.Set("Urgency", e.opts.Urgency)
	if e.opts.Topic != "" {
		h.Set("Topic", e.opts.Topic)
	}
	return &EncryptedMessage{Endpoint: sub.Endpoint, Headers: h, Body: body}, nil
}

// DecodeSubscriptionKeys decodes and length-checks p256dh and auth.
func DecodeSubscriptionKeys(k Keys) (uaPublic, authSecret []byte, err error) {
	uaPublic, err = Decode(k.P256dh)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: p256dh: %v", ErrInvalidSubscriptionKey, err)
	}
	if len(uaPublic) != PublicKeySize || uaPublic[0] != 0x04 {
		return nil, nil, fmt.Errorf("%w: p256dh must be a %d byte uncompressed point, got %d bytes", ErrInvalidSubscriptionKey, PublicKeySize, len(uaPublic))
	}
	authSecret, err = Decode(k.Auth)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: auth: %v", ErrInvalidSubscriptionKey, err)
	}
	if len(authSecret) != authSecretSize {
		return nil, nil, fmt.Errorf("%w: auth must be %d bytes, got %d", ErrInvalidSubscriptionKey, authSecretSize, len(authSecret))
	}
	return uaPublic, authSecret, nil
}

// EncryptBytes returns the aes128gcm body for a single record:
// salt || rs || idlen || ephemeral public key || ciphertext || tag.
func (e *Encryptor) EncryptBytes(uaPublic, authSecret, plaintext []byte) ([]byte, error) {
	if HeaderSize+len(plaintext)+1+tagSize > MaxRecordSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(plaintext), MaxPayloadSize)
	}

	ephemeral, err := e.crypto.GenerateECDHKeyPair()
	if err != nil {
		return nil, fmt.Errorf("webpush: generate ephemeral key: %w", err)
	}
	asPublic := ephemeral.PublicKey().Bytes()

	secret, err := e.crypto.DeriveBits(ephemeral, uaPublic)
	if err != nil {
		return nil, fmt.Errorf("webpush: ecdh: %w", err)
	}
	salt, err := e.crypto.RandomBytes(saltSize)
	if err != nil {
		return nil, fmt.Errorf("webpush: salt: %w", err)
	}

	keyInfo := make([]byte, 0, len(keyInfoPrefix)+2*PublicKeySize)
	keyInfo = append(keyInfo, keyInfoPrefix...)
	keyInfo = append(keyInfo, uaPublic...)
	keyInfo = append(keyInfo, asPublic...)

	ikm, err := e.crypto.HKDF(secret, authSecret, keyInfo, ikmSize)
	if err != nil {
		return nil, fmt.Errorf("webpush: derive ikm: %w", err)
	}
	cek, err := e.crypto.HKDF(ikm, salt, cekInfo, cekSize)
	if err != nil {
		return nil, fmt.Errorf("webpush: derive cek: %w", err)
	}
	nonce, err := e.crypto.HKDF(ikm, salt, nonceInfo, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("webpush: derive nonce: %w", err)
	}

	record := make([]byte, 0, len(plaintext)+1)
	record = append(record, plaintext...)
	record = append(record, lastRecordDelimiter)

	sealed, err := e.crypto.AESGCMEncrypt(cek, nonce, record)
	if err != nil {
		return nil, fmt.Errorf("webpush: encrypt: %w", err)
	}

	rs := e.opts.RecordSize
	if rs == 0 {
		rs = max(len(sealed), minRecordSize)
	}
	if rs < len(sealed) {
		return nil, fmt.Errorf("%w: record of %d bytes exceeds rs %d", ErrPayloadTooLarge, len(sealed), rs)
	}

	body := make([]byte, 0, HeaderSize+len(sealed))
	body = append(body, salt...)
	body = binary.BigEndian.AppendUint32(body, uint32(rs))
	body = append(body, byte(len(asPublic)))
	body = append(body, asPublic...)
	body = append(body, sealed...)
	return body, nil
}
