package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_RoundTrip(t *testing.T) {
	tokens := NewTokens("secret", 2*time.Hour)

	signed, err := tokens.GenerateToken(42, "ana@lupo.com", "admin")
	require.NoError(t, err)

	claims, err := tokens.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "42", claims.Subject)
	assert.WithinDuration(t, claims.IssuedAt.Add(2*time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestTokens_Expired(t *testing.T) {
	tokens := NewTokens("secret", 2*time.Hour)
	issued := time.Now().Add(-3 * time.Hour)
	tokens.now = func() time.Time { return issued }

	signed, err := tokens.GenerateToken(1, "a@b.c", "vendedor")
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_WrongSecret(t *testing.T) {
	signed, err := NewTokens("one", time.Hour).GenerateToken(1, "a@b.c", "admin")
	require.NoError(t, err)

	_, err = NewTokens("two", time.Hour).ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": 1})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokens("secret", time.Hour).ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
