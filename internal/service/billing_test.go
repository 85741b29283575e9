package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/repository"
)

func TestComputeCharge(t *testing.T) {
	accepted := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		elapsed  time.Duration
		rate     int64
		duration int64
		minutes  int64
		coins    int64
	}{
		{"instant drop", 0, 10, 0, 0, 0},
		{"just under grace", 9 * time.Second, 10, 9, 0, 0},
		{"exactly grace", 10 * time.Second, 10, 10, 1, 10},
		{"one minute", 60 * time.Second, 10, 60, 1, 10},
		{"65 seconds rounds up", 65 * time.Second, 10, 65, 2, 20},
		{"video rate", 125 * time.Second, 60, 125, 3, 180},
		{"sub-second remainder is dropped", 61*time.Second + 900*time.Millisecond, 10, 61, 2, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ComputeCharge(&accepted, accepted.Add(tt.elapsed), tt.rate)
			assert.Equal(t, tt.duration, c.DurationSeconds)
			assert.Equal(t, tt.minutes, c.MinutesBilled)
			assert.Equal(t, tt.coins, c.Coins)
		})
	}

	t.Run("never accepted", func(t *testing.T) {
		assert.Equal(t, Charge{}, ComputeCharge(nil, accepted, 10))
	})

	t.Run("clock skew before accept", func(t *testing.T) {
		assert.Equal(t, Charge{}, ComputeCharge(&accepted, accepted.Add(-time.Second), 10))
	})
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	billing := NewBillingService(decimal.RequireFromString("0.25"))

	setup := func() *repository.MemoryStore {
		store := repository.NewMemoryStore()
		store.PutUser(payerUser("m1", 100))
		store.PutUser(earnerUser("f1", 0))
		return store
	}

	t.Run("writes a balanced pair", func(t *testing.T) {
		store := setup()

		var got Settlement
		err := store.WithinTx(ctx, func(tx repository.Store) error {
			var err error
			got, err = billing.Settle(ctx, tx, "call-1", "m1", "f1", 40, model.CallKindAudio)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, Settlement{Coins: 40, Status: model.LedgerStatusSettled}, got)

		entries := store.LedgerEntries()
		require.Len(t, entries, 2)
		byKind := map[model.LedgerKind]model.LedgerEntry{}
		for _, e := range entries {
			byKind[e.Kind] = e
		}
		assert.Equal(t, int64(-40), byKind[model.LedgerKindSpend].Coins)
		assert.Equal(t, int64(40), byKind[model.LedgerKindEarn].Coins)
		assert.True(t, byKind[model.LedgerKindEarn].Amount.Equal(decimal.NewFromInt(10)))
		assert.True(t, byKind[model.LedgerKindSpend].Amount.Add(byKind[model.LedgerKindEarn].Amount).IsZero())

		m1, _ := store.User("m1")
		f1, _ := store.User("f1")
		assert.Equal(t, int64(60), m1.CoinBalance)
		assert.Equal(t, int64(40), f1.CoinBalance)
		assert.Equal(t, int64(40), f1.TotalEarnings)
	})

	t.Run("second settle returns the recorded result", func(t *testing.T) {
		store := setup()

		for i := 0; i < 2; i++ {
			err := store.WithinTx(ctx, func(tx repository.Store) error {
				got, err := billing.Settle(ctx, tx, "call-1", "m1", "f1", 40, model.CallKindAudio)
				assert.Equal(t, int64(40), got.Coins)
				return err
			})
			require.NoError(t, err)
		}

		assert.Len(t, store.LedgerEntries(), 2)
		m1, _ := store.User("m1")
		assert.Equal(t, int64(60), m1.CoinBalance)
	})

	t.Run("shortfall records zero and leaves balances alone", func(t *testing.T) {
		store := setup()

		var got Settlement
		err := store.WithinTx(ctx, func(tx repository.Store) error {
			var err error
			got, err = billing.Settle(ctx, tx, "call-1", "m1", "f1", 500, model.CallKindVideo)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, Settlement{Coins: 0, Status: model.LedgerStatusShortfall}, got)

		m1, _ := store.User("m1")
		f1, _ := store.User("f1")
		assert.Equal(t, int64(100), m1.CoinBalance)
		assert.Equal(t, int64(0), f1.TotalEarnings)
	})
}
