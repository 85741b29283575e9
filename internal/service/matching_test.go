package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
	"github.com/innovfix/onlycare-calls/internal/matching"
	"github.com/innovfix/onlycare-calls/internal/model"
	redisclient "github.com/innovfix/onlycare-calls/internal/redis"
)

// fakeReserver mimics SET NX: keys listed in taken are held by someone else.
type fakeReserver struct {
	mu       sync.Mutex
	held     map[string]bool
	taken    map[string]bool
	err      error
	released []string
}

func newFakeReserver() *fakeReserver {
	return &fakeReserver{held: map[string]bool{}, taken: map[string]bool{}}
}

func (r *fakeReserver) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, false, r.err
	}
	if r.held[key] || r.taken[key] {
		return nil, false, nil
	}
	r.held[key] = true
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.held, key)
		r.released = append(r.released, key)
	}, true, nil
}

func TestFindReceiver(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, *fakeReserver) {
		f := newFixture(t)
		r := newFakeReserver()
		f.calls.matcher.reserver = r
		return f, r
	}

	t.Run("high tier picks the top earner", func(t *testing.T) {
		f, r := setup(t)
		f.store.PutUser(earnerUser("f2", 20000))
		f.store.PutUser(earnerUser("f3", 50000))

		m1 := f.user(t, "m1")
		match, err := f.calls.matcher.FindReceiver(ctx, &m1, model.CallKindAudio)
		require.NoError(t, err)

		// f1 sits alone in trial; weighted choice may land there, otherwise high wins with f3.
		if match.Tier == matching.TierHigh {
			assert.Equal(t, "f3", match.ReceiverID)
		}
		assert.True(t, r.held[redisclient.MatchReservationKey(match.ReceiverID)])

		match.Release()
		assert.Empty(t, r.held)
	})

	t.Run("retries once within the tier when the choice is reserved", func(t *testing.T) {
		f, r := setup(t)
		f.update(t, "f1", func(u *model.User) { u.TotalEarnings = 30000 })
		f.store.PutUser(earnerUser("f2", 20000))
		r.taken[redisclient.MatchReservationKey("f1")] = true

		m1 := f.user(t, "m1")
		match, err := f.calls.matcher.FindReceiver(ctx, &m1, model.CallKindAudio)
		require.NoError(t, err)
		assert.Equal(t, "f2", match.ReceiverID)
		assert.Equal(t, matching.TierHigh, match.Tier)
	})

	t.Run("gives up after the retry", func(t *testing.T) {
		f, r := setup(t)
		f.update(t, "f1", func(u *model.User) { u.TotalEarnings = 30000 })
		f.store.PutUser(earnerUser("f2", 20000))
		f.store.PutUser(earnerUser("f3", 15000))
		for _, id := range []string{"f1", "f2"} {
			r.taken[redisclient.MatchReservationKey(id)] = true
		}

		m1 := f.user(t, "m1")
		_, err := f.calls.matcher.FindReceiver(ctx, &m1, model.CallKindAudio)
		assertCode(t, err, apperrors.ErrCodeUserUnavailable)
	})

	t.Run("revalidation drops a candidate who went offline", func(t *testing.T) {
		f, _ := setup(t)
		f.update(t, "f1", func(u *model.User) { u.TotalEarnings = 30000 })
		f.store.PutUser(earnerUser("f2", 20000))

		// f1 goes offline between the pool query and the lock.
		m1 := f.user(t, "m1")
		matcher := f.calls.matcher
		valid, err := matcher.revalidate(ctx, m1.ID, "f1", model.CallKindAudio)
		require.NoError(t, err)
		assert.True(t, valid)

		f.update(t, "f1", func(u *model.User) { u.Online = false })
		valid, err = matcher.revalidate(ctx, m1.ID, "f1", model.CallKindAudio)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("blocked and busy earners are never offered", func(t *testing.T) {
		f, _ := setup(t)
		f.store.PutUser(earnerUser("f2", 0))
		f.store.PutUser(earnerUser("f3", 0))
		f.store.Block("f2", "m1")
		f.store.Block("m1", "f3")
		f.store.PutUser(earnerUser("f4", 0))
		f.store.PutUser(payerUser("m2", 1000))
		busy, err := f.calls.Initiate(ctx, "m2", "f4", model.CallKindAudio)
		require.NoError(t, err)
		_, err = f.calls.Accept(ctx, busy.ID, "f4")
		require.NoError(t, err)

		m1 := f.user(t, "m1")
		for i := 0; i < 20; i++ {
			match, err := f.calls.matcher.FindReceiver(ctx, &m1, model.CallKindAudio)
			require.NoError(t, err)
			assert.Equal(t, "f1", match.ReceiverID)
			match.Release()
		}
	})

	t.Run("recently called earners are skipped, relaxing the session window when needed", func(t *testing.T) {
		f, _ := setup(t)
		now := f.clock.Now()
		// Six audio calls with f1 long ago: outside both time windows, inside the 20-call window,
		// and outside the relaxed 5-call window once five newer calls exist.
		f.store.PutUser(earnerUser("f2", 0))
		f.store.PutCall(model.CallSession{ID: "old", CallerID: "m1", ReceiverID: "f1", Kind: model.CallKindAudio, Status: model.CallStatusEnded, CreatedAt: now.Add(-48 * time.Hour)})
		for i := 0; i < 5; i++ {
			f.store.PutCall(model.CallSession{
				ID: "c" + string(rune('a'+i)), CallerID: "m1", ReceiverID: "f2",
				Kind: model.CallKindAudio, Status: model.CallStatusEnded,
				CreatedAt: now.Add(-time.Duration(2+i) * time.Hour),
			})
		}

		m1 := f.user(t, "m1")
		match, err := f.calls.matcher.FindReceiver(ctx, &m1, model.CallKindAudio)
		require.NoError(t, err)
		assert.Equal(t, "f1", match.ReceiverID)
		assert.True(t, match.Relaxed)
	})

	t.Run("nobody left", func(t *testing.T) {
		f, _ := setup(t)
		f.update(t, "f1", func(u *model.User) { u.Online = false })

		m1 := f.user(t, "m1")
		_, err := f.calls.matcher.FindReceiver(ctx, &m1, model.CallKindAudio)
		assertCode(t, err, apperrors.ErrCodeUserUnavailable)
	})

	t.Run("redis outage fails open", func(t *testing.T) {
		f, r := setup(t)
		r.err = errors.New("connection refused")

		m1 := f.user(t, "m1")
		match, err := f.calls.matcher.FindReceiver(ctx, &m1, model.CallKindAudio)
		require.NoError(t, err)
		assert.Equal(t, "f1", match.ReceiverID)
	})
}

func TestInitiateRandom(t *testing.T) {
	ctx := context.Background()

	t.Run("rings the matched earner and releases the reservation", func(t *testing.T) {
		f := newFixture(t)
		r := newFakeReserver()
		f.calls.matcher.reserver = r

		view, err := f.calls.InitiateRandom(ctx, "m1", model.CallKindVideo)
		require.NoError(t, err)
		assert.Equal(t, "f1", view.ReceiverID)
		assert.Equal(t, model.CallStatusConnecting, view.Status)
		assert.Empty(t, r.held)
		assert.Equal(t, []string{redisclient.MatchReservationKey("f1")}, r.released)
	})

	t.Run("earners cannot start random calls", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.calls.InitiateRandom(ctx, "f1", model.CallKindAudio)
		assertCode(t, err, apperrors.ErrCodeInvalidRequest)
	})

	t.Run("balance is still enforced", func(t *testing.T) {
		f := newFixture(t)
		f.update(t, "m1", func(u *model.User) { u.CoinBalance = 0 })

		_, err := f.calls.InitiateRandom(ctx, "m1", model.CallKindAudio)
		assertCode(t, err, apperrors.ErrCodeInsufficientCoins)
	})

	t.Run("unknown caller", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.calls.InitiateRandom(ctx, "ghost", model.CallKindAudio)
		assertCode(t, err, apperrors.ErrCodeNotFound)
	})
}
