package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/repository"
)

// Kicker wakes the outbox dispatcher so fresh events go out without waiting for the next tick.
type Kicker interface {
	Kick()
}

// Notifier records call notifications in the outbox inside the caller's
// transaction. Delivery happens later, so a slow or failing channel can
// never hold a lock or roll back a transition.
type Notifier struct {
	kicker Kicker
}

func NewNotifier(kicker Kicker) *Notifier {
	return &Notifier{kicker: kicker}
}

// Enqueue writes one outbox row per channel. The push row is skipped when the
// recipient has no device registered.
func (n *Notifier) Enqueue(ctx context.Context, tx repository.Store, recipient *model.User, payload model.NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	channels := []model.OutboxChannel{model.OutboxChannelRelay}
	if recipient.PushToken != nil && *recipient.PushToken != "" {
		channels = append(channels, model.OutboxChannelPush)
	}

	for _, ch := range channels {
		_, err := tx.Outbox().Create(ctx, model.CreateOutboxEventParams{
			ID:      uuid.Must(uuid.NewV7()).String(),
			UserID:  recipient.ID,
			CallID:  payload.CallID,
			Channel: ch,
			Event:   payload.Type,
			Payload: body,
		})
		if err != nil {
			return fmt.Errorf("enqueue %s notification: %w", ch, err)
		}
	}
	return nil
}

// Kick is called after the enqueuing transaction commits.
func (n *Notifier) Kick() {
	if n != nil && n.kicker != nil {
		n.kicker.Kick()
	}
}
