package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SecretHeader carries the shared secret between the orchestrator and the relay process.
const SecretHeader = "X-Relay-Secret"

// EmitRequest is the body of POST /emit on the relay process.
type EmitRequest struct {
	UserID  string          `json:"userId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type EmitResponse struct {
	Delivered bool `json:"delivered"`
}

// Emitter pushes an event to a user's live connection, if any. delivered is
// false when the user has no connection; that is not an error.
type Emitter interface {
	Emit(ctx context.Context, userID, event string, payload json.RawMessage) (delivered bool, err error)
}

type Client struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Emit(ctx context.Context, userID, event string, payload json.RawMessage) (bool, error) {
	body, err := json.Marshal(EmitRequest{UserID: userID, Event: event, Payload: payload})
	if err != nil {
		return false, fmt.Errorf("marshal emit request: %w", err)
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emit", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, c.secret)

	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return false, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("relay emit failed with status %d", resp.StatusCode)
	}

	var out EmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode relay response: %w", err)
	}

	log.Debug().
		Str("userId", userID).
		Str("event", event).
		Bool("delivered", out.Delivered).
		Dur("elapsed", elapsed).
		Msg("relay emit")

	return out.Delivered, nil
}
