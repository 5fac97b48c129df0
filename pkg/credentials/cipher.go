// Package credentials provides per-project encrypted API key storage and the
// symmetric cipher protecting keys at rest.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Sentinel errors.
var (
	ErrKeyNotFound    = errors.New("api key not found")
	ErrPlaceholderKey = errors.New("api key appears to be a placeholder value")
	ErrInvalidCipher  = errors.New("invalid ciphertext")
)

// Cipher encrypts and decrypts API keys with AES-256-GCM. Ciphertexts are
// nonce-prefixed and base64 url-encoded for storage in text columns.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a base64 url-encoded 32-byte key.
func NewCipher(encodedKey string) (*Cipher, error) {
	key, err := base64.URLEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// GenerateKey produces a fresh base64 url-encoded 32-byte key, for operator
// bootstrapping.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

// Encrypt seals the plaintext and returns a storable string.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a string produced by Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCipher, err)
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", ErrInvalidCipher
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCipher, err)
	}
	return string(plaintext), nil
}
