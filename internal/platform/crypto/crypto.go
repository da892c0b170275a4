// Package crypto seals transport credentials before they are written to
// storage. AES-256-GCM is used in production; Plaintext only hex-encodes and
// exists for local development where no key is configured.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Sealer turns opaque credential bytes into a storable string and back.
// The owner is bound as additional data, so a sealed credential copied to
// another tenant row fails to open.
type Sealer interface {
	Seal(owner string, plaintext []byte) (string, error)
	Open(owner string, sealed string) ([]byte, error)
}

// Plaintext hex-encodes without encryption.
type Plaintext struct{}

func (Plaintext) Seal(_ string, plaintext []byte) (string, error) {
	return hex.EncodeToString(plaintext), nil
}

func (Plaintext) Open(_ string, sealed string) ([]byte, error) {
	b, err := hex.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex: %w", err)
	}
	return b, nil
}

type AESGCM struct {
	gcm cipher.AEAD
}

func NewAESGCM(hexKey string) (*AESGCM, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCM{gcm: gcm}, nil
}

func (c *AESGCM) Seal(owner string, plaintext []byte) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// nonce || ciphertext || tag
	sealed := c.gcm.Seal(nonce, nonce, plaintext, []byte(owner))
	return hex.EncodeToString(sealed), nil
}

func (c *AESGCM) Open(owner string, sealed string) ([]byte, error) {
	buffer, err := hex.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex: %w", err)
	}

	nonceSize := c.gcm.NonceSize()
	if len(buffer) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, cipherBytes := buffer[:nonceSize], buffer[nonceSize:]
	plain, err := c.gcm.Open(nil, nonce, cipherBytes, []byte(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plain, nil
}

// New picks AES-GCM when a key is configured and Plaintext otherwise.
func New(hexKey string) (Sealer, error) {
	if hexKey == "" {
		return Plaintext{}, nil
	}
	return NewAESGCM(hexKey)
}
