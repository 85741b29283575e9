package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/innovfix/onlycare-calls/internal/config"
	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
	"github.com/innovfix/onlycare-calls/internal/matching"
	"github.com/innovfix/onlycare-calls/internal/metrics"
	"github.com/innovfix/onlycare-calls/internal/model"
	redisclient "github.com/innovfix/onlycare-calls/internal/redis"
	"github.com/innovfix/onlycare-calls/internal/repository"
)

// Reserver grants a short exclusive hold on a key. *redis.Locker implements it.
type Reserver interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Match is a receiver picked for a random call. The reservation stays held
// until Release so two random callers cannot land on the same receiver.
type Match struct {
	ReceiverID string
	Tier       matching.Tier
	Relaxed    bool
	release    func()
}

func (m *Match) Release() {
	if m != nil && m.release != nil {
		m.release()
		m.release = nil
	}
}

type MatchingService struct {
	store    repository.Store
	selector matching.Selector
	reserver Reserver

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewMatchingService(store repository.Store, thresholds matching.Thresholds, reserver Reserver) *MatchingService {
	return &MatchingService{
		store: store,
		selector: matching.Selector{
			Thresholds: thresholds,
			Recency: matching.Recency{
				AnyKindWindow:  config.MatchRecentAnyKind,
				SameKindWindow: config.MatchRecentSameKind,
				SessionWindow:  config.MatchRecentCalls,
			},
			RelaxedSessionWindow: config.MatchRelaxedCalls,
		},
		reserver: reserver,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// FindReceiver picks an earner for requester. The chosen candidate is
// re-validated under a reservation and a row lock; if that fails, one other
// candidate from the same tier is tried before giving up.
func (s *MatchingService) FindReceiver(ctx context.Context, requester *model.User, kind model.CallKind) (*Match, error) {
	pool, err := s.store.Users().FindMatchPool(ctx, model.MatchPoolQuery{
		RequesterID: requester.ID,
		Kind:        kind,
		Language:    requester.Language,
		Gender:      model.GenderFemale,
	})
	if err != nil {
		return nil, fmt.Errorf("find match pool: %w", err)
	}

	history, err := s.history(ctx, requester.ID, kind)
	if err != nil {
		return nil, err
	}

	candidates := make([]matching.Candidate, len(pool))
	for i, c := range pool {
		candidates[i] = matching.Candidate{UserID: c.UserID, TotalEarnings: c.TotalEarnings}
	}

	s.mu.Lock()
	sel, ok := s.selector.Select(candidates, history, string(kind), s.now(), s.rng)
	s.mu.Unlock()
	if !ok {
		metrics.MatchOutcomes.WithLabelValues("no_candidates").Inc()
		log.Info().
			Str("userId", requester.ID).
			Str("callType", string(kind)).
			Int("poolSize", len(pool)).
			Msg("no match candidates")
		return nil, apperrors.NoOneAvailable()
	}

	tierPool := sel.Pool
	chosen := sel.Chosen
	for attempt := 0; attempt < 2; attempt++ {
		release, held := s.reserve(ctx, chosen.UserID)
		if held {
			valid, err := s.revalidate(ctx, requester.ID, chosen.UserID, kind)
			if err != nil {
				release()
				return nil, err
			}
			if valid {
				metrics.MatchOutcomes.WithLabelValues(string(sel.Tier)).Inc()
				log.Info().
					Str("userId", requester.ID).
					Str("receiverId", chosen.UserID).
					Str("tier", string(sel.Tier)).
					Bool("relaxed", sel.Relaxed).
					Int("attempt", attempt).
					Msg("random match found")
				return &Match{ReceiverID: chosen.UserID, Tier: sel.Tier, Relaxed: sel.Relaxed, release: release}, nil
			}
			release()
		}

		tierPool = matching.Without(tierPool, chosen.UserID)
		s.mu.Lock()
		next, ok := matching.PickInTier(sel.Tier, tierPool, s.rng)
		s.mu.Unlock()
		if !ok {
			break
		}
		chosen = next
	}

	metrics.MatchOutcomes.WithLabelValues("revalidation_failed").Inc()
	return nil, apperrors.NoOneAvailable()
}

func (s *MatchingService) history(ctx context.Context, userID string, kind model.CallKind) (matching.History, error) {
	recent, err := s.store.Calls().RecentSince(ctx, userID, s.now().Add(-config.MatchRecentAnyKind))
	if err != nil {
		return matching.History{}, fmt.Errorf("load recent calls: %w", err)
	}
	latest, err := s.store.Calls().LatestOfKind(ctx, userID, kind, config.MatchRecentCalls)
	if err != nil {
		return matching.History{}, fmt.Errorf("load latest calls: %w", err)
	}
	return matching.History{Recent: toRecent(recent), LatestOfKind: toRecent(latest)}, nil
}

func toRecent(calls []model.RecentCall) []matching.RecentCall {
	out := make([]matching.RecentCall, len(calls))
	for i, c := range calls {
		out[i] = matching.RecentCall{CounterpartID: c.CounterpartID, Kind: string(c.Kind), At: c.CreatedAt}
	}
	return out
}

// reserve fails open when Redis is unreachable; the row lock in revalidate
// and in Initiate still guard the busy flag.
func (s *MatchingService) reserve(ctx context.Context, userID string) (func(), bool) {
	if s.reserver == nil {
		return func() {}, true
	}
	release, ok, err := s.reserver.TryAcquire(ctx, redisclient.MatchReservationKey(userID), config.MatchReservationTTL)
	if err != nil {
		log.Warn().Err(err).Str("receiverId", userID).Msg("match reservation unavailable")
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return release, true
}

func (s *MatchingService) revalidate(ctx context.Context, requesterID, candidateID string, kind model.CallKind) (bool, error) {
	valid := false
	var repaired []string
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		repaired = repaired[:0]
		users, err := tx.Users().LockByIDs(ctx, candidateID)
		if err != nil {
			return fmt.Errorf("lock candidate: %w", err)
		}
		u := users[candidateID]
		if u == nil || !u.Active || !u.Online || !u.KindEnabled(kind) {
			return nil
		}

		busy, fixed, err := resolveBusy(ctx, tx, u)
		if err != nil {
			return err
		}
		if fixed {
			repaired = append(repaired, u.ID)
		}
		if busy {
			return nil
		}

		for _, pair := range [][2]string{{candidateID, requesterID}, {requesterID, candidateID}} {
			blocked, err := tx.Users().IsBlocked(ctx, pair[0], pair[1])
			if err != nil {
				return fmt.Errorf("check block: %w", err)
			}
			if blocked {
				return nil
			}
		}

		valid = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("revalidate candidate: %w", err)
	}
	reportBusyRepairs(ctx, repaired)
	return valid, nil
}
