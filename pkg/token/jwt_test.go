package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	m := NewJWTManager("test-secret", 1)

	tokenString, err := m.GenerateToken("svc-importer", "writer")
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := m.VerifyToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "svc-importer", claims.CallerID)
	assert.Equal(t, "writer", claims.Role)
}

func TestVerifyToken_WrongSecretIsRejected(t *testing.T) {
	tokenString, err := NewJWTManager("secret-a", 1).GenerateToken("svc", "reader")
	require.NoError(t, err)

	_, err = NewJWTManager("secret-b", 1).VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestVerifyToken_ExpiredIsRejected(t *testing.T) {
	// 有效期为负，签发即过期
	tokenString, err := NewJWTManager("test-secret", -1).GenerateToken("svc", "reader")
	require.NoError(t, err)

	_, err = NewJWTManager("test-secret", -1).VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestVerifyToken_GarbageIsRejected(t *testing.T) {
	_, err := NewJWTManager("test-secret", 1).VerifyToken("不是一个 token")
	assert.Error(t, err)
}
