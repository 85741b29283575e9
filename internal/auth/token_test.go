package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func TestTokenVerifier(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := NewTokenVerifier(testSecret)
	verifier.now = func() time.Time { return now }

	t.Run("accepts a valid token", func(t *testing.T) {
		token, err := IssueToken(testSecret, "user-1", time.Hour, now)
		require.NoError(t, err)

		userID, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		token, err := IssueToken(testSecret, "user-1", time.Minute, now.Add(-2*time.Hour))
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTokenExpired))
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		token, err := IssueToken("another-secret-another-secret-another", "user-1", time.Hour, now)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidToken))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := verifier.Verify("not-a-jwt")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidToken))
	})

	t.Run("refuses to mint a token without a user", func(t *testing.T) {
		_, err := IssueToken(testSecret, "", time.Hour, now)
		assert.Error(t, err)
	})

	t.Run("refuses to mint without a secret", func(t *testing.T) {
		_, err := IssueToken("", "user-1", time.Hour, now)
		assert.Error(t, err)
	})
}

func TestTokenVerifierWithoutSecret(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := NewTokenVerifier("")
	verifier.now = func() time.Time { return now }

	// Signed with an empty key by hand, the way an attacker would.
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		UserID:           "user-1",
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(""))
	require.NoError(t, err)

	_, err = verifier.Verify(forged)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidToken))
}
