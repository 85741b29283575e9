package matching

import (
	"time"
)

type RecentCall struct {
	CounterpartID string
	Kind          string
	At            time.Time
}

// Recency configures the three repeat-avoidance filters.
type Recency struct {
	AnyKindWindow  time.Duration
	SameKindWindow time.Duration
	// SessionWindow counts calls of the requested kind, newest first.
	SessionWindow int
}

// History is what repeat avoidance needs about the requester.
type History struct {
	// Recent holds every call within the longer time window, any kind.
	Recent []RecentCall
	// LatestOfKind holds the newest calls of the requested kind, newest first.
	LatestOfKind []RecentCall
}

// Excluded returns the counterparts removed by the three filters together:
// anyone called within AnyKindWindow, anyone called with kind within
// SameKindWindow, and anyone in the newest SessionWindow calls of kind.
func (r Recency) Excluded(h History, kind string, now time.Time) map[string]struct{} {
	out := make(map[string]struct{})

	anyCutoff := now.Add(-r.AnyKindWindow)
	sameCutoff := now.Add(-r.SameKindWindow)
	for _, c := range h.Recent {
		if !c.At.Before(anyCutoff) {
			out[c.CounterpartID] = struct{}{}
			continue
		}
		if c.Kind == kind && !c.At.Before(sameCutoff) {
			out[c.CounterpartID] = struct{}{}
		}
	}

	for i, c := range h.LatestOfKind {
		if i >= r.SessionWindow {
			break
		}
		out[c.CounterpartID] = struct{}{}
	}
	return out
}

// Filter drops excluded candidates, preserving order.
func Filter(candidates []Candidate, excluded map[string]struct{}) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, skip := excluded[c.UserID]; !skip {
			out = append(out, c)
		}
	}
	return out
}
