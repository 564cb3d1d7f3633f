// Package secret encrypts credential material at rest.
//
// Ciphertext layout is nonce || ct || tag, base64 (standard) encoded.
// The store is used for credential-profile passwords and private keys;
// plaintext only ever exists inside discovery workers.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

const (
	nonceSize = 12 // 96-bit nonce
	keySize   = 32 // AES-256
)

// Store performs authenticated encryption of secret strings.
type Store struct {
	aead cipher.AEAD
}

// New creates a Store from a base64-encoded 256-bit key.
// The key is decoded with a fallback chain: standard base64, URL-safe
// base64, then standard base64 after normalizing the URL-safe alphabet
// and padding. Configuration sources are inconsistent about which
// encoding they hand us.
func New(encodedKey string) (*Store, error) {
	key, err := DecodeKey(encodedKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}
	return &Store{aead: aead}, nil
}

// DecodeKey decodes a base64 key, trying each accepted encoding in turn,
// and validates the length.
func DecodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, util.InvalidArgumentf("encryption key is required")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(encoded)
	}
	if err != nil {
		cleaned := strings.NewReplacer("-", "+", "_", "/").Replace(encoded)
		for len(cleaned)%4 != 0 {
			cleaned += "="
		}
		key, err = base64.StdEncoding.DecodeString(cleaned)
	}
	if err != nil {
		return nil, util.InvalidArgumentf("encryption key is not valid base64")
	}
	if len(key) != keySize {
		return nil, util.InvalidArgumentf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// GenerateKey returns a fresh random AES-256 key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt encrypts a plaintext string. Empty input round-trips unchanged.
func (s *Store) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	// Seal appends ct||tag after the nonce prefix.
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tag mismatch, truncated input, or bad base64
// all yield an error wrapping util.ErrSecretCorrupt; cipher details are
// never included in the message.
func (s *Store) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", util.ErrSecretCorrupt
	}
	if len(sealed) < nonceSize {
		return "", util.ErrSecretCorrupt
	}

	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", util.ErrSecretCorrupt
	}
	return string(plaintext), nil
}
