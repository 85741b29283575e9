// Package matching holds the pure parts of random receiver selection: tier
// partitioning, repeat avoidance and weighted tier choice. Nothing here touches
// storage, so every rule can be exercised with plain values.
package matching

import (
	"math/rand"
)

type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierTrial  Tier = "trial"
	// TierLow only catches negative earnings, which valid data never has.
	TierLow Tier = "low"
)

// weightOrder is both the accumulation order for weighted choice and the
// fallthrough priority when no weighted tier is nonempty.
var weightOrder = []Tier{TierHigh, TierMedium, TierTrial, TierLow}

var fallthroughOrder = []Tier{TierHigh, TierMedium, TierTrial}

var tierWeights = map[Tier]int{
	TierHigh:   85,
	TierMedium: 10,
	TierTrial:  5,
	TierLow:    0,
}

// Thresholds bucket cumulative earnings: high >= High, Medium <= medium < High,
// 0 <= trial < Medium.
type Thresholds struct {
	Medium int64
	High   int64
}

type Candidate struct {
	UserID        string
	TotalEarnings int64
}

func (th Thresholds) TierOf(earnings int64) Tier {
	switch {
	case earnings < 0:
		return TierLow
	case earnings >= th.High:
		return TierHigh
	case earnings >= th.Medium:
		return TierMedium
	default:
		return TierTrial
	}
}

// Partition groups candidates by tier, preserving input order within a tier.
func Partition(candidates []Candidate, th Thresholds) map[Tier][]Candidate {
	tiers := make(map[Tier][]Candidate, len(weightOrder))
	for _, c := range candidates {
		t := th.TierOf(c.TotalEarnings)
		tiers[t] = append(tiers[t], c)
	}
	return tiers
}

// Sizes snapshots the candidate count per tier.
func Sizes(tiers map[Tier][]Candidate) map[Tier]int {
	sizes := make(map[Tier]int, len(tiers))
	for t, cs := range tiers {
		sizes[t] = len(cs)
	}
	return sizes
}

// ChooseTier picks a tier with probability proportional to its weight, counting
// only nonempty tiers. When the nonempty tiers carry no weight it falls through
// high, medium, trial in order. ok is false when no eligible tier has candidates.
func ChooseTier(sizes map[Tier]int, rng *rand.Rand) (tier Tier, ok bool) {
	total := 0
	for _, t := range weightOrder {
		if sizes[t] > 0 {
			total += tierWeights[t]
		}
	}

	if total > 0 {
		r := rng.Intn(total)
		acc := 0
		for _, t := range weightOrder {
			if sizes[t] == 0 {
				continue
			}
			acc += tierWeights[t]
			if r < acc {
				return t, true
			}
		}
	}

	for _, t := range fallthroughOrder {
		if sizes[t] > 0 {
			return t, true
		}
	}
	return "", false
}

// PickInTier chooses one candidate: the top earner in the high tier, uniformly
// at random elsewhere. Ties on earnings keep the earliest candidate.
func PickInTier(tier Tier, candidates []Candidate, rng *rand.Rand) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	if tier == TierHigh {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.TotalEarnings > best.TotalEarnings {
				best = c
			}
		}
		return best, true
	}
	return candidates[rng.Intn(len(candidates))], true
}

// Without returns candidates minus the one with userID.
func Without(candidates []Candidate, userID string) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.UserID != userID {
			out = append(out, c)
		}
	}
	return out
}
