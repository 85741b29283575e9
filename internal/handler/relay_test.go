package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovfix/onlycare-calls/internal/middleware"
	"github.com/innovfix/onlycare-calls/internal/relay"
	"github.com/innovfix/onlycare-calls/internal/sse"
)

type fakeHub struct {
	mu           sync.Mutex
	clients      map[string]*sse.Client
	unsubscribed chan string
	published    []sse.Event
	delivered    bool
	err          error
}

func newFakeHub() *fakeHub {
	return &fakeHub{clients: make(map[string]*sse.Client), unsubscribed: make(chan string, 1)}
}

func (h *fakeHub) Subscribe(userID string) *sse.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &sse.Client{UserID: userID, Events: make(chan sse.Event, 4), Done: make(chan struct{})}
	h.clients[userID] = c
	return c
}

func (h *fakeHub) Unsubscribe(client *sse.Client) {
	h.unsubscribed <- client.UserID
}

func (h *fakeHub) client(userID string) *sse.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[userID]
}

func (h *fakeHub) Publish(ctx context.Context, userID string, event sse.Event) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, event)
	return h.delivered, h.err
}

func TestRelayHandlerEvents(t *testing.T) {
	t.Run("returns 401 without a user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		rec := httptest.NewRecorder()

		NewRelayHandler(newFakeHub()).Events(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("streams events until the client leaves", func(t *testing.T) {
		hub := newFakeHub()
		h := NewRelayHandler(hub)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.Events(w, r.WithContext(middleware.WithUserID(r.Context(), "f1")))
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
		reader := bufio.NewReader(resp.Body)

		readEvent := func() (string, string) {
			var name, data string
			for {
				line, err := reader.ReadString('\n')
				require.NoError(t, err)
				line = strings.TrimRight(line, "\n")
				switch {
				case strings.HasPrefix(line, "event: "):
					name = strings.TrimPrefix(line, "event: ")
				case strings.HasPrefix(line, "data: "):
					data = strings.TrimPrefix(line, "data: ")
				case line == "" && name != "":
					return name, data
				}
			}
		}

		name, data := readEvent()
		assert.Equal(t, "connected", name)
		assert.JSONEq(t, `{"userId":"f1"}`, data)

		hub.client("f1").Events <- sse.Event{Type: "incoming_call", Data: json.RawMessage(`{"callId":"c1"}`)}
		name, data = readEvent()
		assert.Equal(t, "incoming_call", name)
		assert.JSONEq(t, `{"callId":"c1"}`, data)

		cancel()
		select {
		case id := <-hub.unsubscribed:
			assert.Equal(t, "f1", id)
		case <-time.After(2 * time.Second):
			t.Fatal("connection was not unsubscribed")
		}
	})
}

func TestRelayHandlerEmit(t *testing.T) {
	emit := func(h *RelayHandler, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/emit", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		h.Emit(rec, req)
		return rec
	}

	t.Run("reports delivery", func(t *testing.T) {
		hub := newFakeHub()
		hub.delivered = true

		rec := emit(NewRelayHandler(hub), `{"userId":"f1","event":"call_accepted","payload":{"callId":"c1"}}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp relay.EmitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Delivered)
		require.Len(t, hub.published, 1)
		assert.Equal(t, "call_accepted", hub.published[0].Type)
	})

	t.Run("no subscriber is not an error", func(t *testing.T) {
		rec := emit(NewRelayHandler(newFakeHub()), `{"userId":"f1","event":"call_ended"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"delivered":false}`, rec.Body.String())
	})

	t.Run("rejects incomplete requests", func(t *testing.T) {
		rec := emit(NewRelayHandler(newFakeHub()), `{"event":"call_ended"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("surfaces publish failures", func(t *testing.T) {
		hub := newFakeHub()
		hub.err = errors.New("connection refused")

		rec := emit(NewRelayHandler(hub), `{"userId":"f1","event":"call_ended"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestSendRawEvent(t *testing.T) {
	h := &RelayHandler{}
	rec := httptest.NewRecorder()

	err := h.sendRawEvent(rec, rec, sse.Event{Type: "call_missed", Data: json.RawMessage(`{"reason":"timeout"}`)})

	assert.NoError(t, err)
	assert.Equal(t, "event: call_missed\ndata: {\"reason\":\"timeout\"}\n\n", rec.Body.String())
}
