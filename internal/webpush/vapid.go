package webpush

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// PublicKeySize is the length of an uncompressed P-256 point.
	PublicKeySize = 65
	// PrivateKeySize is the length of a P-256 scalar.
	PrivateKeySize = 32

	// DefaultTokenTTL is the VAPID token lifetime. RFC 8292 caps exp at
	// 24 hours from the time of the request.
	DefaultTokenTTL = 24 * time.Hour
)

// VAPIDKeys is the application server key pair in raw form.
type VAPIDKeys struct {
	Public  []byte
	Private []byte
}

// ParseVAPIDKeys decodes a base64url key pair as produced by common VAPID
// key generators.
func ParseVAPIDKeys(publicKey, privateKey string) (VAPIDKeys, error) {
	if publicKey == "" || privateKey == "" {
		return VAPIDKeys{}, fmt.Errorf("%w: vapid key pair is not configured", ErrSigning)
	}
	pub, err := Decode(publicKey)
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("%w: public key: %v", ErrSigning, err)
	}
	priv, err := Decode(privateKey)
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("%w: private key: %v", ErrSigning, err)
	}
	if len(pub) != PublicKeySize || pub[0] != 0x04 {
		return VAPIDKeys{}, fmt.Errorf("%w: public key must be a %d byte uncompressed point", ErrSigning, PublicKeySize)
	}
	if len(priv) != PrivateKeySize {
		return VAPIDKeys{}, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrSigning, PrivateKeySize, len(priv))
	}
	return VAPIDKeys{Public: pub, Private: priv}, nil
}

// Signer issues VAPID tokens for one application server key pair. It is
// read-only after construction and safe for concurrent use.
type Signer struct {
	key     *ecdsa.PrivateKey
	public  []byte
	subject string
	ttl     time.Duration
	method  jwt.SigningMethod

	now func() time.Time
}

// NewSigner validates the key pair and contact URI. A zero ttl selects
// DefaultTokenTTL.
func NewSigner(keys VAPIDKeys, subject string, ttl time.Duration, provider CryptoProvider) (*Signer, error) {
	if provider == nil {
		provider = StdCrypto{}
	}
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	if ttl < 0 || ttl > DefaultTokenTTL {
		return nil, fmt.Errorf("%w: token ttl %s outside (0, %s]", ErrSigning, ttl, DefaultTokenTTL)
	}
	if !strings.HasPrefix(subject, "mailto:") && !strings.HasPrefix(subject, "https:") {
		return nil, fmt.Errorf("%w: subject %q must be a mailto: or https: URI", ErrSigning, subject)
	}

	priv, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), keys.Private)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrSigning, err)
	}
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), keys.Public)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrSigning, err)
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, fmt.Errorf("%w: public key does not belong to private key", ErrSigning)
	}

	return &Signer{
		key:     priv,
		public:  append([]byte(nil), keys.Public...),
		subject: subject,
		ttl:     ttl,
		method:  &signingMethodVAPID{provider: provider},
		now:     time.Now,
	}, nil
}

// PublicKey returns the base64url application server key, the value
// browsers pass as applicationServerKey and the k= parameter of the header.
func (s *Signer) PublicKey() string {
	return Encode(s.public)
}

// Token returns a compact ES256 JWT for the given push service origin.
func (s *Signer) Token(audience string) (string, error) {
	claims := jwt.MapClaims{
		"aud": audience,
		"exp": s.now().Add(s.ttl).Unix(),
		"sub": s.subject,
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, nil
}

// Authorization returns the full Authorization header value for audience.
func (s *Signer) Authorization(audience string) (string, error) {
	token, err := s.Token(audience)
	if err != nil {
		return "", err
	}
	return "vapid t=" + token + ", k=" + s.PublicKey(), nil
}

// Audience returns the origin of a push service endpoint, the value the
// aud claim must carry.
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidEndpoint, endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

// signingMethodVAPID signs through a CryptoProvider, whose ECDSA output is
// DER, and emits the raw r||s signature ES256 requires.
type signingMethodVAPID struct {
	provider CryptoProvider
}

func (m *signingMethodVAPID) Alg() string { return jwt.SigningMethodES256.Alg() }

func (m *signingMethodVAPID) Sign(signingString string, key any) ([]byte, error) {
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	der, err := m.provider.ECDSASign(priv, digest[:])
	if err != nil {
		return nil, err
	}
	return DERToRaw(der)
}

func (m *signingMethodVAPID) Verify(signingString string, sig []byte, key any) error {
	return jwt.SigningMethodES256.Verify(signingString, sig, key)
}
