package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovfix/onlycare-calls/internal/config"
	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/repository"
	"github.com/innovfix/onlycare-calls/internal/service"
)

func newPresenceJob(store *repository.MemoryStore) *PresenceJob {
	calls := service.NewCallService(
		store,
		service.NewBillingService(decimal.NewFromInt(1)),
		service.NewNotifier(nil),
		nil,
		nil,
		service.DefaultRates{model.CallKindAudio: 10, model.CallKindVideo: 60},
	)
	return NewPresenceJob(service.NewPresenceService(store), calls, store.Outbox(), 30*time.Second, time.Hour)
}

func seedPresence(store *repository.MemoryStore) {
	store.PutUser(model.User{ID: "m1", Gender: model.GenderMale, Active: true, Online: true, Busy: true})
	store.PutUser(model.User{ID: "f1", Gender: model.GenderFemale, Active: true, Online: true})
	store.PutUser(model.User{ID: "m2", Gender: model.GenderMale, Active: true, Online: true})
	store.PutUser(model.User{ID: "f2", Gender: model.GenderFemale, Active: true, Online: true, Busy: true})

	now := time.Now()
	store.PutCall(model.CallSession{
		ID:         "ringing-long",
		CallerID:   "m2",
		ReceiverID: "f1",
		Kind:       model.CallKindAudio,
		Status:     model.CallStatusConnecting,
		Rate:       10,
		CreatedAt:  now.Add(-2 * time.Minute),
		UpdatedAt:  now.Add(-2 * time.Minute),
	})
	store.PutCall(model.CallSession{
		ID:         "ringing-fresh",
		CallerID:   "m1",
		ReceiverID: "f1",
		Kind:       model.CallKindVideo,
		Status:     model.CallStatusConnecting,
		Rate:       60,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func TestPresenceJobSweep(t *testing.T) {
	store := repository.NewMemoryStore()
	seedPresence(store)

	// A delivered row old enough to be pruned.
	store.SetClock(func() time.Time { return time.Now().Add(-config.OutboxRetention - time.Hour) })
	_, err := store.Outbox().Create(context.Background(), model.CreateOutboxEventParams{
		ID: "old", UserID: "f1", CallID: "earlier", Channel: model.OutboxChannelRelay, Event: model.EventCallEnded,
	})
	require.NoError(t, err)
	require.NoError(t, store.Outbox().MarkSent(context.Background(), "old", time.Now()))
	store.SetClock(time.Now)

	job := newPresenceJob(store)
	job.sweep()

	long, _ := store.Call("ringing-long")
	assert.Equal(t, model.CallStatusMissed, long.Status)
	require.NotNil(t, long.EndReason)
	assert.Equal(t, "timeout", *long.EndReason)

	fresh, _ := store.Call("ringing-fresh")
	assert.Equal(t, model.CallStatusConnecting, fresh.Status)

	m1, _ := store.User("m1")
	f2, _ := store.User("f2")
	assert.False(t, m1.Busy, "nothing ONGOING backs m1's flag")
	assert.False(t, f2.Busy)

	var missed, old int
	for _, e := range store.OutboxEvents() {
		if e.Event == model.EventCallMissed {
			missed++
		}
		if e.ID == "old" {
			old++
		}
	}
	assert.Positive(t, missed, "both parties hear about the missed call")
	assert.Zero(t, old)
}

func TestPresenceJobSetsFlagForOngoingCall(t *testing.T) {
	store := repository.NewMemoryStore()
	store.PutUser(model.User{ID: "m1", Gender: model.GenderMale, Active: true})
	store.PutUser(model.User{ID: "f1", Gender: model.GenderFemale, Active: true})
	accepted := time.Now().Add(-time.Minute)
	store.PutCall(model.CallSession{
		ID:         "live",
		CallerID:   "m1",
		ReceiverID: "f1",
		Kind:       model.CallKindAudio,
		Status:     model.CallStatusOngoing,
		Rate:       10,
		CreatedAt:  accepted.Add(-5 * time.Second),
		AcceptedAt: &accepted,
		StartedAt:  &accepted,
	})

	newPresenceJob(store).sweep()

	m1, _ := store.User("m1")
	f1, _ := store.User("f1")
	assert.True(t, m1.Busy)
	assert.True(t, f1.Busy)

	live, _ := store.Call("live")
	assert.Equal(t, model.CallStatusOngoing, live.Status, "ongoing calls are never touched by the sweep")
}

func TestPresenceJobStartStop(t *testing.T) {
	store := repository.NewMemoryStore()
	seedPresence(store)

	job := newPresenceJob(store)
	job.Start()

	assert.Eventually(t, func() bool {
		c, _ := store.Call("ringing-long")
		return c.Status == model.CallStatusMissed
	}, 2*time.Second, 10*time.Millisecond)

	job.Stop()
}
