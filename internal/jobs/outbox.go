package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/innovfix/onlycare-calls/internal/audit"
	"github.com/innovfix/onlycare-calls/internal/config"
	"github.com/innovfix/onlycare-calls/internal/metrics"
	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/push"
	"github.com/innovfix/onlycare-calls/internal/relay"
	"github.com/innovfix/onlycare-calls/internal/repository"
)

// OutboxDispatcher delivers queued call notifications. Each row is one
// channel; a failing channel retries on its own schedule and never holds
// up the other.
type OutboxDispatcher struct {
	store       repository.Store
	gateway     push.Gateway
	emitter     relay.Emitter
	maxAttempts int
	maxAge      time.Duration
	interval    time.Duration
	now         func() time.Time

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func NewOutboxDispatcher(
	store repository.Store,
	gateway push.Gateway,
	emitter relay.Emitter,
	maxAttempts int,
	maxAge time.Duration,
	interval time.Duration,
) *OutboxDispatcher {
	return &OutboxDispatcher{
		store:       store,
		gateway:     gateway,
		emitter:     emitter,
		maxAttempts: maxAttempts,
		maxAge:      maxAge,
		interval:    interval,
		now:         time.Now,
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (d *OutboxDispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	log.Info().Dur("interval", d.interval).Msg("outbox dispatcher started")
}

// Stop waits for the batch in flight to finish.
func (d *OutboxDispatcher) Stop() {
	close(d.done)
	d.wg.Wait()
	log.Info().Msg("outbox dispatcher stopped")
}

// Kick requests an immediate pass. It never blocks.
func (d *OutboxDispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *OutboxDispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.tick()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.tick()
		case <-d.kick:
			d.tick()
		}
	}
}

func (d *OutboxDispatcher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain full batches before going back to sleep.
	for {
		n, err := d.dispatch(ctx)
		if err != nil {
			log.Error().Err(err).Msg("outbox dispatch failed")
			return
		}
		if n < config.OutboxBatchSize {
			break
		}
	}

	if pending, err := d.store.Outbox().CountPending(ctx); err == nil {
		metrics.OutboxBacklog.Set(float64(pending))
	}
}

// dispatch claims and delivers one batch, returning how many rows it claimed.
func (d *OutboxDispatcher) dispatch(ctx context.Context) (int, error) {
	now := d.now()
	events, err := d.store.Outbox().ClaimDue(ctx, now, now.Add(config.OutboxClaimLease), config.OutboxBatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox events: %w", err)
	}

	for i := range events {
		d.deliver(ctx, &events[i])
	}
	return len(events), nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, e *model.OutboxEvent) {
	if age := d.now().Sub(e.CreatedAt); age > d.maxAge {
		d.finish(ctx, e, "expired", d.store.Outbox().MarkFailed(ctx, e.ID, fmt.Sprintf("expired after %s", age.Round(time.Second))))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, config.OutboxSendTimeout)
	defer cancel()

	var result string
	var err error
	switch e.Channel {
	case model.OutboxChannelRelay:
		result, err = d.sendRelay(sendCtx, e)
	case model.OutboxChannelPush:
		result, err = d.sendPush(sendCtx, e)
	default:
		d.finish(ctx, e, "invalid", d.store.Outbox().MarkFailed(ctx, e.ID, "unknown channel "+string(e.Channel)))
		return
	}

	switch {
	case err == nil:
		d.finish(ctx, e, result, d.store.Outbox().MarkSent(ctx, e.ID, d.now()))
	case errors.Is(err, errPermanent):
		d.finish(ctx, e, result, d.store.Outbox().MarkFailed(ctx, e.ID, err.Error()))
	case e.Attempts >= d.maxAttempts:
		d.finish(ctx, e, "exhausted", d.store.Outbox().MarkFailed(ctx, e.ID, err.Error()))
	default:
		next := d.now().Add(Backoff(e.Attempts))
		log.Warn().
			Err(err).
			Str("eventId", e.ID).
			Str("channel", string(e.Channel)).
			Int("attempts", e.Attempts).
			Time("nextAttemptAt", next).
			Msg("notification delivery failed, will retry")
		d.finish(ctx, e, "retry", d.store.Outbox().MarkRetry(ctx, e.ID, next, err.Error()))
	}
}

func (d *OutboxDispatcher) finish(ctx context.Context, e *model.OutboxEvent, result string, markErr error) {
	metrics.NotificationsSent.WithLabelValues(string(e.Channel), result).Inc()
	if markErr != nil {
		log.Error().Err(markErr).Str("eventId", e.ID).Msg("failed to record outbox result")
		return
	}
	log.Debug().
		Str("eventId", e.ID).
		Str("callId", e.CallID).
		Str("userId", e.UserID).
		Str("event", string(e.Event)).
		Str("channel", string(e.Channel)).
		Str("result", result).
		Msg("notification processed")
}

// errPermanent marks delivery failures that retrying cannot fix.
var errPermanent = errors.New("permanent delivery failure")

func (d *OutboxDispatcher) sendRelay(ctx context.Context, e *model.OutboxEvent) (string, error) {
	delivered, err := d.emitter.Emit(ctx, e.UserID, string(e.Event), e.Payload)
	if err != nil {
		return "error", err
	}
	// No live connection is a normal outcome; push covers that user.
	if !delivered {
		return "no_connection", nil
	}
	return "delivered", nil
}

func (d *OutboxDispatcher) sendPush(ctx context.Context, e *model.OutboxEvent) (string, error) {
	user, err := d.store.Users().FindByID(ctx, e.UserID)
	if err != nil {
		return "error", fmt.Errorf("load recipient: %w", err)
	}
	if user == nil || user.PushToken == nil || *user.PushToken == "" {
		return "no_token", fmt.Errorf("%w: no device registered", errPermanent)
	}

	var payload model.NotificationPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return "invalid", fmt.Errorf("%w: decode payload: %v", errPermanent, err)
	}

	token := *user.PushToken
	err = d.gateway.Send(ctx, token, payload.Data())
	if errors.Is(err, push.ErrInvalidToken) {
		cleared, clearErr := d.store.Users().ClearPushToken(ctx, user.ID, token)
		if clearErr != nil {
			log.Error().Err(clearErr).Str("userId", user.ID).Msg("failed to clear push token")
		}
		if cleared {
			audit.Log(ctx, audit.Event{Type: audit.EventPushTokenCleared, UserID: user.ID, CallID: e.CallID})
		}
		return "invalid_token", fmt.Errorf("%w: %v", errPermanent, err)
	}
	if err != nil {
		return "error", err
	}
	return "delivered", nil
}

// Backoff doubles from OutboxBaseBackoff per attempt, capped at OutboxMaxBackoff.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := config.OutboxBaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= config.OutboxMaxBackoff {
			return config.OutboxMaxBackoff
		}
	}
	return d
}
