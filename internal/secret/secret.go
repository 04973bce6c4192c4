// Package secret seals small values (push endpoint keys) at rest.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4

	sealedPrefix = "enc:v1:"
)

// The passphrase is deployment-wide, so the salt is fixed per purpose.
var pushKeySalt = []byte("nudge/push-endpoint-keys")

// ErrMalformed is returned when a sealed value cannot be decoded or authenticated.
var ErrMalformed = errors.New("malformed sealed value")

// Box encrypts and decrypts values with AES-256-GCM. A nil *Box passes
// values through unchanged.
type Box struct {
	aead cipher.AEAD
}

// New derives a key from passphrase with Argon2id. An empty passphrase
// returns a nil Box.
func New(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, nil
	}
	return NewFromKey(DeriveKey(passphrase))
}

// NewFromKey builds a Box from a raw 32-byte key.
func NewFromKey(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Box{aead: gcm}, nil
}

// DeriveKey derives a 32-byte AES-256 key from a passphrase using Argon2id.
func DeriveKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), pushKeySalt, argonTime, argonMem, argonPar, keySize)
}

// Seal encrypts plaintext. Output format: "enc:v1:" + base64url([12-byte nonce][ciphertext]).
func (b *Box) Seal(plaintext string) (string, error) {
	if b == nil {
		return plaintext, nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// are returned as-is so rows written before a key was configured stay readable.
func (b *Box) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if b == nil {
		return "", fmt.Errorf("%w: no key configured", ErrMalformed)
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: too short", ErrMalformed)
	}
	plaintext, err := b.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(plaintext), nil
}
