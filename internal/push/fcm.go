package push

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Incoming-call pushes are useless once the ring has timed out.
const fcmMessageTTL = 60 * time.Second

type FCMGateway struct {
	client *messaging.Client
}

func NewFCMGateway(ctx context.Context, projectID, credentialsFile string, opts ...option.ClientOption) (*FCMGateway, error) {
	if credentialsFile != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(credentialsFile)}, opts...)
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}

	return &FCMGateway{client: client}, nil
}

// Send delivers a data-only, high-priority message. The client renders its own
// call UI, so no notification block is attached.
func (g *FCMGateway) Send(ctx context.Context, deviceToken string, data map[string]string) error {
	ttl := fcmMessageTTL
	msg := &messaging.Message{
		Token: deviceToken,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "background",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}

	if _, err := g.client.Send(ctx, msg); err != nil {
		if IsInvalidRegistration(err) {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

// IsInvalidRegistration classifies provider errors that mean the token is dead.
// INVALID_ARGUMENT is left out: FCM also uses it for payload problems.
func IsInvalidRegistration(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err)
}
