package model

import (
	"time"
)

// User is the slice of the user directory this service reads and writes:
// presence flags, balances, earnings and the push registration.
type User struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	Gender          Gender     `db:"gender" json:"gender"`
	Language        string     `db:"language" json:"language"`
	Active          bool       `db:"active" json:"active"`
	Online          bool       `db:"online" json:"online"`
	Busy            bool       `db:"busy" json:"busy"`
	AudioEnabled    bool       `db:"audio_enabled" json:"audioEnabled"`
	VideoEnabled    bool       `db:"video_enabled" json:"videoEnabled"`
	LastAvailableAt *time.Time `db:"last_available_at" json:"lastAvailableAt,omitempty"`
	CoinBalance     int64      `db:"coin_balance" json:"coinBalance"`
	TotalEarnings   int64      `db:"total_earnings" json:"totalEarnings"`
	AudioRate       *int64     `db:"audio_rate" json:"audioRate,omitempty"`
	VideoRate       *int64     `db:"video_rate" json:"videoRate,omitempty"`
	Rating          float64    `db:"rating" json:"rating"`
	RatingCount     int        `db:"rating_count" json:"ratingCount"`
	PushToken       *string    `db:"push_token" json:"-"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

func (u *User) KindEnabled(kind CallKind) bool {
	switch kind {
	case CallKindAudio:
		return u.AudioEnabled
	case CallKindVideo:
		return u.VideoEnabled
	}
	return false
}

// RateFor returns the user's own per-minute rate for kind, if one is set.
func (u *User) RateFor(kind CallKind) (int64, bool) {
	var rate *int64
	switch kind {
	case CallKindAudio:
		rate = u.AudioRate
	case CallKindVideo:
		rate = u.VideoRate
	}
	if rate == nil || *rate <= 0 {
		return 0, false
	}
	return *rate, true
}

// AvailableSince reports whether the user's availability timestamp is within window of now.
func (u *User) AvailableSince(now time.Time, window time.Duration) bool {
	return u.LastAvailableAt != nil && now.Sub(*u.LastAvailableAt) <= window
}

// MatchPoolQuery selects receivers eligible for random matching.
type MatchPoolQuery struct {
	RequesterID string
	Kind        CallKind
	Language    string
	Gender      Gender
}

// MatchCandidate is a snapshot of one eligible receiver. Never persisted.
type MatchCandidate struct {
	UserID        string `db:"id"`
	TotalEarnings int64  `db:"total_earnings"`
}

// BusyRepair counts flags fixed by one presence repair pass.
type BusyRepair struct {
	Cleared int64
	Set     int64
}
