package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	cipher, err := NewCipher(key)
	require.NoError(t, err)

	encrypted, err := cipher.Encrypt("sk-live-abcdef123456")
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "sk-live")

	decrypted, err := cipher.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abcdef123456", decrypted)
}

func TestCipher_DistinctCiphertexts(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	cipher, err := NewCipher(key)
	require.NoError(t, err)

	// Random nonces: same plaintext never encrypts identically.
	first, err := cipher.Encrypt("same-value-every-time")
	require.NoError(t, err)
	second, err := cipher.Encrypt("same-value-every-time")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewCipher_InvalidKey(t *testing.T) {
	_, err := NewCipher("not-base64!!!")
	require.Error(t, err)

	_, err = NewCipher("c2hvcnQ=") // "short"
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestCipher_DecryptGarbage(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	cipher, err := NewCipher(key)
	require.NoError(t, err)

	_, err = cipher.Decrypt("AAAA")
	require.ErrorIs(t, err, ErrInvalidCipher)

	_, err = cipher.Decrypt("!!!not-encoded")
	require.ErrorIs(t, err, ErrInvalidCipher)
}

func TestCipher_WrongKeyFails(t *testing.T) {
	key1, err := GenerateKey()
	require.NoError(t, err)
	key2, err := GenerateKey()
	require.NoError(t, err)

	c1, err := NewCipher(key1)
	require.NoError(t, err)
	c2, err := NewCipher(key2)
	require.NoError(t, err)

	encrypted, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(encrypted)
	require.ErrorIs(t, err, ErrInvalidCipher)
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder("your_api_key_here"))
	assert.True(t, IsPlaceholder("PLACEHOLDER"))
	assert.True(t, IsPlaceholder("replace-me-with-real-key"))
	assert.True(t, IsPlaceholder("example-key-123"))
	assert.True(t, IsPlaceholder("dummy-key-value"))
	assert.True(t, IsPlaceholder("short"))
	assert.True(t, IsPlaceholder("   "))

	assert.False(t, IsPlaceholder("sk-proj-8fK2mNpQr7sT4vWx"))
	assert.False(t, IsPlaceholder("AIzaSyD4mK8nQp2rT6vX0z"))
}
