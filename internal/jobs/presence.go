package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/innovfix/onlycare-calls/internal/config"
	"github.com/innovfix/onlycare-calls/internal/repository"
	"github.com/innovfix/onlycare-calls/internal/service"
)

const staleRingBatch = 200

// PresenceJob keeps derived call state honest: busy flags, calls left
// ringing past the timeout, and delivered outbox rows.
type PresenceJob struct {
	presence    *service.PresenceService
	calls       *service.CallService
	outbox      repository.OutboxRepository
	ringTimeout time.Duration
	interval    time.Duration
	now         func() time.Time
	done        chan struct{}
}

func NewPresenceJob(
	presence *service.PresenceService,
	calls *service.CallService,
	outbox repository.OutboxRepository,
	ringTimeout time.Duration,
	interval time.Duration,
) *PresenceJob {
	return &PresenceJob{
		presence:    presence,
		calls:       calls,
		outbox:      outbox,
		ringTimeout: ringTimeout,
		interval:    interval,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

func (j *PresenceJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("presence job started")
}

func (j *PresenceJob) Stop() {
	close(j.done)
	log.Info().Msg("presence job stopped")
}

func (j *PresenceJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *PresenceJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Expire first so calls it closes never count as ringing in the repair.
	j.runStep(ctx, "ringing calls", func(ctx context.Context) (int64, error) {
		n, err := j.calls.ExpireRinging(ctx, j.ringTimeout, staleRingBatch)
		return int64(n), err
	})
	j.runStep(ctx, "busy flags", func(ctx context.Context) (int64, error) {
		repair, err := j.presence.RepairBusyFlags(ctx)
		return repair.Cleared + repair.Set, err
	})
	j.runStep(ctx, "outbox rows", func(ctx context.Context) (int64, error) {
		return j.outbox.DeleteFinishedBefore(ctx, j.now().Add(-config.OutboxRetention))
	})
}

func (j *PresenceJob) runStep(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to sweep %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("swept %s", name)
	}
}
