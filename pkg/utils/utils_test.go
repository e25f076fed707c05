package utils

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecrypt(t *testing.T) {
	c1, err := Encrypt([]byte("access-token"), key)
	require.NoError(t, err)
	c2, err := Encrypt([]byte("access-token"), key)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2, "nonce must differ per call")

	plain, err := Decrypt(c1, key)
	require.NoError(t, err)
	assert.Equal(t, "access-token", plain)

	_, err = Decrypt(c1, []byte("fedcba9876543210fedcba9876543210"))
	assert.Error(t, err)
}

func TestDecryptRejectsShortInput(t *testing.T) {
	_, err := Decrypt(base64.StdEncoding.EncodeToString([]byte("short")), key)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = Decrypt("not base64!", key)
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	tok, err := GenerateToken("secret", "42", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)

	_, err = ValidateToken("other", tok)
	assert.Error(t, err)

	expired, err := GenerateToken("secret", "42", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken("secret", expired)
	assert.Error(t, err)
}
