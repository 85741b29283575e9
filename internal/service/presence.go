package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/innovfix/onlycare-calls/internal/audit"
	"github.com/innovfix/onlycare-calls/internal/metrics"
	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/repository"
)

// resolveBusy reports whether user really is on a call. A busy flag with no
// ONGOING session behind it is cleared on the spot; repaired tells the caller
// to report it once the transaction commits.
func resolveBusy(ctx context.Context, tx repository.Store, user *model.User) (ongoing, repaired bool, err error) {
	ongoing, err = tx.Calls().HasOngoing(ctx, user.ID, "")
	if err != nil {
		return false, false, fmt.Errorf("check ongoing calls: %w", err)
	}
	if user.Busy && !ongoing {
		if err := tx.Users().SetBusy(ctx, user.ID, false); err != nil {
			return false, false, fmt.Errorf("clear stale busy flag: %w", err)
		}
		user.Busy = false
		repaired = true
	}
	return ongoing, repaired, nil
}

// reportBusyRepairs records flags cleared by resolveBusy. Call it only after commit.
func reportBusyRepairs(ctx context.Context, userIDs []string) {
	for _, id := range userIDs {
		audit.Log(ctx, audit.Event{Type: audit.EventBusyFlagRepaired, UserID: id})
		metrics.BusyFlagsRepaired.Inc()
	}
}

// releaseBusy recomputes the flag for each user after callID left ONGOING.
func releaseBusy(ctx context.Context, tx repository.Store, callID string, userIDs ...string) error {
	for _, id := range userIDs {
		ongoing, err := tx.Calls().HasOngoing(ctx, id, callID)
		if err != nil {
			return fmt.Errorf("check ongoing calls: %w", err)
		}
		if err := tx.Users().SetBusy(ctx, id, ongoing); err != nil {
			return fmt.Errorf("release busy flag: %w", err)
		}
	}
	return nil
}

type PresenceService struct {
	store repository.Store
}

func NewPresenceService(store repository.Store) *PresenceService {
	return &PresenceService{store: store}
}

// RepairBusyFlags brings every busy flag back in line with ONGOING sessions.
func (s *PresenceService) RepairBusyFlags(ctx context.Context) (model.BusyRepair, error) {
	var repair model.BusyRepair
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		repair, err = tx.Users().RepairBusyFlags(ctx)
		return err
	})
	if err != nil {
		return model.BusyRepair{}, fmt.Errorf("repair busy flags: %w", err)
	}

	if fixed := repair.Cleared + repair.Set; fixed > 0 {
		metrics.BusyFlagsRepaired.Add(float64(fixed))
		audit.Log(ctx, audit.Event{
			Type: audit.EventBusyFlagRepaired,
			Details: map[string]interface{}{
				"cleared": repair.Cleared,
				"set":     repair.Set,
			},
		})
		log.Info().
			Int64("cleared", repair.Cleared).
			Int64("set", repair.Set).
			Msg("busy flags repaired")
	}
	return repair, nil
}
