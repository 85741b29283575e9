package matching

import (
	"math/rand"
	"time"
)

type Selector struct {
	Thresholds Thresholds
	Recency    Recency
	// RelaxedSessionWindow replaces Recency.SessionWindow on the single relaxation pass.
	RelaxedSessionWindow int
}

type Selection struct {
	Tier Tier
	// Pool is the filtered tier the choice came from, Chosen included.
	Pool    []Candidate
	Chosen  Candidate
	Relaxed bool
}

// Select applies all repeat-avoidance filters, then chooses a tier and a
// candidate. If nothing survives, it retries once with the session window
// shrunk to RelaxedSessionWindow. The time windows and blocks are never relaxed.
func (s Selector) Select(candidates []Candidate, h History, kind string, now time.Time, rng *rand.Rand) (Selection, bool) {
	if sel, ok := s.selectWith(s.Recency, candidates, h, kind, now, rng); ok {
		return sel, true
	}

	relaxed := s.Recency
	relaxed.SessionWindow = s.RelaxedSessionWindow
	sel, ok := s.selectWith(relaxed, candidates, h, kind, now, rng)
	sel.Relaxed = true
	return sel, ok
}

func (s Selector) selectWith(r Recency, candidates []Candidate, h History, kind string, now time.Time, rng *rand.Rand) (Selection, bool) {
	pool := Filter(candidates, r.Excluded(h, kind, now))
	if len(pool) == 0 {
		return Selection{}, false
	}

	tiers := Partition(pool, s.Thresholds)
	tier, ok := ChooseTier(Sizes(tiers), rng)
	if !ok {
		return Selection{}, false
	}

	chosen, ok := PickInTier(tier, tiers[tier], rng)
	if !ok {
		return Selection{}, false
	}
	return Selection{Tier: tier, Pool: tiers[tier], Chosen: chosen}, true
}
