package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovfix/onlycare-calls/internal/auth"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func TestAuthMiddleware(t *testing.T) {
	verifier := auth.NewTokenVerifier(testSecret)
	validToken, err := auth.IssueToken(testSecret, "user-123", time.Hour, time.Now())
	require.NoError(t, err)

	t.Run("allows request with valid bearer token", func(t *testing.T) {
		handler := NewAuthMiddleware(verifier).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "user-123", GetUserID(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+validToken)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("allows request with query token", func(t *testing.T) {
		handler := NewAuthMiddleware(verifier).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/test?token="+validToken, nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects request without token", func(t *testing.T) {
		handler := NewAuthMiddleware(verifier).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		forged, err := auth.IssueToken("some-other-secret-of-sufficient-length", "user-123", time.Hour, time.Now())
		require.NoError(t, err)

		handler := NewAuthMiddleware(verifier).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_TOKEN")
	})

	t.Run("rejects expired token", func(t *testing.T) {
		expired, err := auth.IssueToken(testSecret, "user-123", time.Minute, time.Now().Add(-time.Hour))
		require.NoError(t, err)

		handler := NewAuthMiddleware(verifier).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "TOKEN_EXPIRED")
	})
}

func TestGetUserID(t *testing.T) {
	t.Run("returns user from context", func(t *testing.T) {
		ctx := WithUserID(context.Background(), "test-id")
		assert.Equal(t, "test-id", GetUserID(ctx))
	})

	t.Run("returns empty when no user in context", func(t *testing.T) {
		assert.Empty(t, GetUserID(context.Background()))
	})
}
