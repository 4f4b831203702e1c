// Package crypt encrypts OAuth tokens before they are written to storage.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// TokenEncryption encrypts token strings with AES-256-GCM.
// The stored form is base64(nonce || ciphertext || tag).
// A TokenEncryption without a key passes values through unchanged.
type TokenEncryption struct {
	aead cipher.AEAD
}

// NewTokenEncryption creates a TokenEncryption. An empty key disables
// encryption.
func NewTokenEncryption(key []byte) (*TokenEncryption, error) {
	if len(key) == 0 {
		return &TokenEncryption{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes (256 bits), got %d bytes", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &TokenEncryption{aead: aead}, nil
}

// Enabled reports whether a key was configured.
func (e *TokenEncryption) Enabled() bool {
	return e != nil && e.aead != nil
}

// Encrypt returns the sealed, base64-encoded form of plaintext.
// Empty strings stay empty so that absent tokens remain absent.
func (e *TokenEncryption) Encrypt(plaintext string) (string, error) {
	if !e.Enabled() || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *TokenEncryption) Decrypt(encoded string) (string, error) {
	if !e.Enabled() || encoded == "" {
		return encoded, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := e.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// GenerateKey returns a random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64 key as found in config or environment.
// An empty string yields a nil key, which disables encryption.
func KeyFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d bytes", KeySize, len(key))
	}
	return key, nil
}
