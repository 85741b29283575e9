package push

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// ErrInvalidToken marks a device registration that will never accept messages again.
var ErrInvalidToken = errors.New("push: invalid or expired device token")

// Gateway sends a data-only message to one device. Returned errors wrap
// ErrInvalidToken when the registration should be dropped.
type Gateway interface {
	Send(ctx context.Context, deviceToken string, data map[string]string) error
}

// LogGateway stands in when no push provider is configured.
type LogGateway struct{}

func (LogGateway) Send(ctx context.Context, deviceToken string, data map[string]string) error {
	log.Debug().
		Str("event", data["type"]).
		Str("callId", data["callId"]).
		Msg("push disabled, message dropped")
	return nil
}
