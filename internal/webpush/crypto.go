package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// CryptoProvider is the set of primitives the signer and encryptor are
// built on. Implementations must be safe for concurrent use.
type CryptoProvider interface {
	// GenerateECDHKeyPair returns a fresh P-256 key pair.
	GenerateECDHKeyPair() (*ecdh.PrivateKey, error)
	// DeriveBits computes the ECDH shared secret with an uncompressed
	// P-256 public key.
	DeriveBits(priv *ecdh.PrivateKey, peerPublic []byte) ([]byte, error)
	// HKDF runs HKDF-SHA256 extract and expand and returns length bytes.
	HKDF(secret, salt, info []byte, length int) ([]byte, error)
	// AESGCMEncrypt seals plaintext and returns ciphertext||tag.
	AESGCMEncrypt(key, nonce, plaintext []byte) ([]byte, error)
	// ECDSASign signs a SHA-256 digest and returns an ASN.1 DER signature.
	ECDSASign(key *ecdsa.PrivateKey, digest []byte) ([]byte, error)
	// RandomBytes returns n bytes from a CSPRNG.
	RandomBytes(n int) ([]byte, error)
}

// StdCrypto implements CryptoProvider with the standard library and
// golang.org/x/crypto/hkdf. A nil Rand means crypto/rand.
type StdCrypto struct {
	Rand io.Reader
}

var _ CryptoProvider = StdCrypto{}

func (c StdCrypto) reader() io.Reader {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

func (c StdCrypto) GenerateECDHKeyPair() (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(c.reader())
}

func (c StdCrypto) DeriveBits(priv *ecdh.PrivateKey, peerPublic []byte) ([]byte, error) {
	pub, err := ecdh.P256().NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: p256dh is not a P-256 point: %v", ErrInvalidSubscriptionKey, err)
	}
	return priv.ECDH(pub)
}

func (c StdCrypto) HKDF(secret, salt, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

func (c StdCrypto) AESGCMEncrypt(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("gcm: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func (c StdCrypto) ECDSASign(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	return ecdsa.SignASN1(c.reader(), key, digest)
}

func (c StdCrypto) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c.reader(), b); err != nil {
		return nil, err
	}
	return b, nil
}
