package crypt

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenEncryption_EncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	enc, err := NewTokenEncryption(key)
	require.NoError(t, err)
	assert.True(t, enc.Enabled())

	tests := []struct {
		name      string
		plaintext string
	}{
		{"access token", "ya29.a0AfH6SMBx"},
		{"refresh token", "1//0gLongRefreshTokenValue"},
		{"empty string", ""},
		{"unicode", "token_🔐"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tt.plaintext)
			require.NoError(t, err)

			if tt.plaintext == "" {
				assert.Empty(t, ciphertext)
				return
			}

			assert.NotEqual(t, tt.plaintext, ciphertext)
			_, err = base64.StdEncoding.DecodeString(ciphertext)
			assert.NoError(t, err)

			decrypted, err := enc.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestTokenEncryption_NonceIsRandom(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	enc, err := NewTokenEncryption(key)
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenEncryption_Disabled(t *testing.T) {
	enc, err := NewTokenEncryption(nil)
	require.NoError(t, err)
	assert.False(t, enc.Enabled())

	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = enc.Decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestTokenEncryption_WrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	e1, err := NewTokenEncryption(k1)
	require.NoError(t, err)
	e2, err := NewTokenEncryption(k2)
	require.NoError(t, err)

	ct, err := e1.Encrypt("secret")
	require.NoError(t, err)

	_, err = e2.Decrypt(ct)
	assert.Error(t, err)
}

func TestNewTokenEncryption_InvalidKeySize(t *testing.T) {
	_, err := NewTokenEncryption([]byte("short"))
	assert.Error(t, err)
}

func TestKeyFromBase64(t *testing.T) {
	key, err := KeyFromBase64("")
	require.NoError(t, err)
	assert.Nil(t, key)

	raw, _ := GenerateKey()
	key, err = KeyFromBase64(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	_, err = KeyFromBase64("not base64!")
	assert.Error(t, err)

	_, err = KeyFromBase64(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.Error(t, err)
}
