package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/innovfix/onlycare-calls/internal/audit"
	"github.com/innovfix/onlycare-calls/internal/config"
	"github.com/innovfix/onlycare-calls/internal/metrics"
	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/repository"
)

// Charge is what a call costs once it ends.
type Charge struct {
	DurationSeconds int64
	MinutesBilled   int64
	Coins           int64
}

// ComputeCharge bills from acceptedAt, never from creation. Calls shorter than
// the grace period are free; anything longer rounds up to whole minutes.
func ComputeCharge(acceptedAt *time.Time, endedAt time.Time, rate int64) Charge {
	if acceptedAt == nil || endedAt.Before(*acceptedAt) {
		return Charge{}
	}

	elapsed := endedAt.Sub(*acceptedAt)
	c := Charge{DurationSeconds: int64(elapsed / time.Second)}
	if elapsed < config.BillingGracePeriod {
		return c
	}

	c.MinutesBilled = (c.DurationSeconds + 59) / 60
	c.Coins = c.MinutesBilled * rate
	return c
}

type Settlement struct {
	Coins  int64
	Status model.LedgerStatus
}

type BillingService struct {
	coinValue decimal.Decimal
}

func NewBillingService(coinValue decimal.Decimal) *BillingService {
	return &BillingService{coinValue: coinValue}
}

// Settle moves coins from payer to earner and writes the SPEND/EARN pair. It
// must run inside the transaction that ends the call. A call that already has
// ledger rows is returned as recorded, so retries never bill twice.
func (s *BillingService) Settle(ctx context.Context, tx repository.Store, callID, payerID, earnerID string, coins int64, kind model.CallKind) (Settlement, error) {
	existing, err := tx.Ledger().FindByCall(ctx, callID)
	if err != nil {
		return Settlement{}, fmt.Errorf("find ledger entries: %w", err)
	}
	for _, e := range existing {
		if e.Kind == model.LedgerKindSpend {
			return Settlement{Coins: -e.Coins, Status: e.Status}, nil
		}
	}

	status := model.LedgerStatusSettled
	if coins <= 0 {
		coins = 0
		status = model.LedgerStatusZeroCharge
	}

	if coins > 0 {
		err := tx.Users().ApplyCoins(ctx, payerID, -coins, 0)
		switch {
		case errors.Is(err, repository.ErrInsufficientBalance):
			// Eligibility was checked at initiate; getting here means the
			// balance moved underneath the call. End it for free and flag it.
			audit.Log(ctx, audit.Event{
				Type:   audit.EventBillingShortfall,
				UserID: payerID,
				CallID: callID,
				Details: map[string]interface{}{
					"coins": coins,
				},
			})
			metrics.BillingShortfalls.Inc()
			coins = 0
			status = model.LedgerStatusShortfall
		case err != nil:
			return Settlement{}, fmt.Errorf("debit payer: %w", err)
		}
	}

	if coins > 0 {
		if err := tx.Users().ApplyCoins(ctx, earnerID, coins, coins); err != nil {
			return Settlement{}, fmt.Errorf("credit earner: %w", err)
		}
	}

	amount := s.coinValue.Mul(decimal.NewFromInt(coins))
	entries := []model.CreateLedgerEntryParams{
		{UserID: payerID, Kind: model.LedgerKindSpend, Coins: -coins, Amount: amount.Neg()},
		{UserID: earnerID, Kind: model.LedgerKindEarn, Coins: coins, Amount: amount},
	}
	for _, e := range entries {
		e.ID = uuid.Must(uuid.NewV7()).String()
		e.CallID = callID
		e.Status = status
		if _, err := tx.Ledger().Create(ctx, e); err != nil {
			return Settlement{}, fmt.Errorf("create %s ledger entry: %w", e.Kind, err)
		}
	}

	if coins > 0 {
		metrics.CoinsBilled.WithLabelValues(string(kind)).Add(float64(coins))
	}

	log.Info().
		Str("callId", callID).
		Str("payerId", payerID).
		Str("earnerId", earnerID).
		Int64("coins", coins).
		Str("status", string(status)).
		Msg("call settled")

	return Settlement{Coins: coins, Status: status}, nil
}
