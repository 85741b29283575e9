package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
	"github.com/innovfix/onlycare-calls/internal/middleware"
	"github.com/innovfix/onlycare-calls/internal/relay"
	"github.com/innovfix/onlycare-calls/internal/sse"
)

// Hub is the part of sse.Broker the relay endpoints use.
type Hub interface {
	Subscribe(userID string) *sse.Client
	Unsubscribe(client *sse.Client)
	Publish(ctx context.Context, userID string, event sse.Event) (bool, error)
}

type RelayHandler struct {
	hub       Hub
	heartbeat time.Duration
}

func NewRelayHandler(hub Hub) *RelayHandler {
	return &RelayHandler{hub: hub, heartbeat: sse.HeartbeatInterval}
}

// GET /events
// Streams call events for the authenticated user until the client goes away.
func (h *RelayHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(client)

	log.Info().Str("userId", userID).Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", map[string]any{"userId": userID}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("userId", userID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("userId", userID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("userId", userID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

// POST /emit
// Internal: the orchestrator's outbox dispatcher pushes one event to one user.
func (h *RelayHandler) Emit(w http.ResponseWriter, r *http.Request) {
	var req relay.EmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" || req.Event == "" {
		writeError(w, apperrors.InvalidRequest("userId and event are required"))
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}

	delivered, err := h.hub.Publish(r.Context(), req.UserID, sse.Event{Type: req.Event, Data: req.Payload})
	if err != nil {
		writeError(w, apperrors.External("redis", err))
		return
	}

	writeJSON(w, http.StatusOK, relay.EmitResponse{Delivered: delivered})
}

func (h *RelayHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *RelayHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
