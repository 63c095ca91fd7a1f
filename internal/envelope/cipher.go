// Package envelope implements the authenticated symmetric cipher used for
// both wrap layers of key custody.
//
// Every Seal draws a fresh 96-bit nonce from the configured entropy source
// and returns the ciphertext, nonce and 128-bit tag as separate fields of a
// Bundle. Open verifies the tag before releasing any plaintext.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names the AEAD construction recorded in a Bundle.
type Algorithm string

const (
	AlgorithmAESGCM           Algorithm = "aes-256-gcm"
	AlgorithmChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	// ErrAuthentication is returned whenever a bundle cannot be opened:
	// wrong key, tampered fields, mismatched associated data or a malformed
	// bundle. It never carries key or plaintext material.
	ErrAuthentication = errors.New("envelope: authentication failed")
	// ErrUnsupported is an authentication-class failure for bundles sealed
	// with an algorithm this build does not know.
	ErrUnsupported = fmt.Errorf("%w: unsupported algorithm", ErrAuthentication)
	// ErrEntropy reports that the entropy source failed while drawing a nonce.
	ErrEntropy = errors.New("envelope: entropy source failure")
	// ErrKeySize rejects keys that are not exactly 256 bits.
	ErrKeySize = errors.New("envelope: key must be 32 bytes")
)

// ParseAlgorithm validates a configured algorithm name. Empty selects AES-GCM.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "", AlgorithmAESGCM:
		return AlgorithmAESGCM, nil
	case AlgorithmChaCha20Poly1305:
		return AlgorithmChaCha20Poly1305, nil
	default:
		return "", fmt.Errorf("envelope: unknown algorithm %q", name)
	}
}

// Cipher seals and opens bundles. It is stateless apart from the algorithm
// used for new seals and the entropy reader, so one value may be shared by
// any number of goroutines.
type Cipher struct {
	algorithm Algorithm
	entropy   io.Reader
}

// Option customises a Cipher.
type Option func(*Cipher)

// WithEntropy replaces crypto/rand as the nonce source.
func WithEntropy(r io.Reader) Option {
	return func(c *Cipher) {
		if r != nil {
			c.entropy = r
		}
	}
}

// WithAlgorithm selects the AEAD used by Seal. Open always follows the
// algorithm recorded in the bundle.
func WithAlgorithm(alg Algorithm) Option {
	return func(c *Cipher) {
		if alg != "" {
			c.algorithm = alg
		}
	}
}

// New constructs a Cipher that seals with AES-256-GCM unless configured
// otherwise.
func New(opts ...Option) (*Cipher, error) {
	c := &Cipher{algorithm: AlgorithmAESGCM, entropy: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if _, err := ParseAlgorithm(string(c.algorithm)); err != nil {
		return nil, err
	}
	return c, nil
}

// Algorithm reports the AEAD used for new seals.
func (c *Cipher) Algorithm() Algorithm {
	return c.algorithm
}

// Seal encrypts plaintext under key with a fresh nonce. aad is authenticated
// but not stored; the same aad must be supplied to Open.
func (c *Cipher) Seal(key, plaintext, aad []byte) (Bundle, error) {
	if len(key) != KeySize {
		return Bundle{}, ErrKeySize
	}
	aead, err := newAEAD(c.algorithm, key)
	if err != nil {
		return Bundle{}, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.entropy, nonce); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrEntropy, err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize
	return Bundle{
		Algorithm:  c.algorithm,
		Ciphertext: sealed[:split:split],
		Nonce:      nonce,
		Tag:        sealed[split:],
	}, nil
}

// Open authenticates and decrypts a bundle. On any failure it returns nil
// and an error matching ErrAuthentication.
func (c *Cipher) Open(key []byte, bundle Bundle, aad []byte) ([]byte, error) {
	return c.OpenTo(nil, key, bundle, aad)
}

// OpenTo behaves like Open but decrypts into dst[:0] when dst has enough
// capacity, which lets callers keep plaintext inside locked memory.
func (c *Cipher) OpenTo(dst, key []byte, bundle Bundle, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	if len(bundle.Nonce) != NonceSize || len(bundle.Tag) != TagSize {
		return nil, ErrAuthentication
	}
	aead, err := newAEAD(bundle.Algorithm, key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(bundle.Ciphertext)+TagSize)
	sealed = append(sealed, bundle.Ciphertext...)
	sealed = append(sealed, bundle.Tag...)

	var out []byte
	if dst != nil {
		out = dst[:0]
	}
	plaintext, err := aead.Open(out, bundle.Nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, ErrKeySize
		}
		return cipher.NewGCM(block)
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, ErrKeySize
		}
		return aead, nil
	default:
		return nil, ErrUnsupported
	}
}
