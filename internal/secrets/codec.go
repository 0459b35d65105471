// Package secrets seals registrar credentials for storage at rest.
//
// A sealed payload has the form iv:salt:ciphertext:tag, every component hex
// encoded. Each call to Seal draws a fresh IV and salt; the salt feeds HKDF so
// every payload is encrypted under its own AES-256-GCM key derived from the
// process-wide master key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MinKeyLength is the minimum accepted master key length in bytes.
const MinKeyLength = 32

const (
	ivSize   = 12
	saltSize = 16
	tagSize  = 16
	keySize  = 32

	hkdfInfo = "sublease/registrar-credentials/v1"
)

var (
	// ErrKeyTooShort is returned by NewCodec for keys under MinKeyLength bytes.
	ErrKeyTooShort = fmt.Errorf("encryption key must be at least %d bytes", MinKeyLength)

	// ErrMalformed is returned when a payload does not split into exactly
	// four hex-encoded fields of the expected sizes.
	ErrMalformed = errors.New("sealed payload is malformed")

	// ErrTampered is returned when the authentication tag does not verify.
	ErrTampered = errors.New("sealed payload failed authentication")
)

// Codec seals and unseals opaque strings. It holds no mutable state and is
// safe for concurrent use.
type Codec struct {
	master []byte
}

// NewCodec returns a Codec keyed by key.
func NewCodec(key string) (*Codec, error) {
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	return &Codec{master: []byte(key)}, nil
}

// Seal encrypts plaintext and returns the iv:salt:ciphertext:tag encoding.
func (c *Codec) Seal(plaintext []byte) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(salt),
		hex.EncodeToString(ct),
		hex.EncodeToString(tag),
	}, ":"), nil
}

// Unseal reverses Seal. It returns ErrMalformed for payloads that do not parse
// and ErrTampered when authentication fails.
func (c *Codec) Unseal(payload string) ([]byte, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformed, len(parts))
	}

	var fields [4][]byte
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d is not hex", ErrMalformed, i)
		}
		fields[i] = b
	}
	iv, salt, ct, tag := fields[0], fields[1], fields[2], fields[3]
	if len(iv) != ivSize || len(salt) != saltSize || len(tag) != tagSize {
		return nil, fmt.Errorf("%w: unexpected field length", ErrMalformed)
	}

	aead, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrTampered
	}
	return plaintext, nil
}

func (c *Codec) aead(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.master, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
