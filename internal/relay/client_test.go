package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientEmit(t *testing.T) {
	t.Run("sends secret and decodes delivery flag", func(t *testing.T) {
		var got EmitRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/emit", r.URL.Path)
			assert.Equal(t, "s3cret", r.Header.Get(SecretHeader))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(EmitResponse{Delivered: true})
		}))
		defer server.Close()

		client := NewClient(server.URL+"/", "s3cret", time.Second)
		delivered, err := client.Emit(context.Background(), "user-1", "incoming_call", json.RawMessage(`{"callId":"c1"}`))

		require.NoError(t, err)
		assert.True(t, delivered)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, "incoming_call", got.Event)
		assert.JSONEq(t, `{"callId":"c1"}`, string(got.Payload))
	})

	t.Run("reports no live connection without error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(EmitResponse{Delivered: false})
		}))
		defer server.Close()

		delivered, err := NewClient(server.URL, "s3cret", time.Second).
			Emit(context.Background(), "user-1", "call_accepted", json.RawMessage(`{}`))
		require.NoError(t, err)
		assert.False(t, delivered)
	})

	t.Run("surfaces non-2xx status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		_, err := NewClient(server.URL, "wrong", time.Second).
			Emit(context.Background(), "user-1", "call_accepted", json.RawMessage(`{}`))
		assert.Error(t, err)
	})
}
