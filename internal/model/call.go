package model

import (
	"time"
)

type CallSession struct {
	ID                    string     `db:"id" json:"id"`
	CallerID              string     `db:"caller_id" json:"callerId"`
	ReceiverID            string     `db:"receiver_id" json:"receiverId"`
	Kind                  CallKind   `db:"kind" json:"callType"`
	Status                CallStatus `db:"status" json:"status"`
	Rate                  int64      `db:"rate" json:"rate"`
	Credential            string     `db:"credential" json:"-"`
	ChannelName           string     `db:"channel_name" json:"-"`
	DurationSeconds       int64      `db:"duration_seconds" json:"duration"`
	ClientDurationSeconds *int64     `db:"client_duration_seconds" json:"-"`
	CoinsCharged          int64      `db:"coins_charged" json:"coinsCharged"`
	EndReason             *string    `db:"end_reason" json:"endReason,omitempty"`
	Rating                *int       `db:"rating" json:"rating,omitempty"`
	Feedback              *string    `db:"feedback" json:"feedback,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"createdAt"`
	AcceptedAt            *time.Time `db:"accepted_at" json:"acceptedAt,omitempty"`
	StartedAt             *time.Time `db:"started_at" json:"startedAt,omitempty"`
	EndedAt               *time.Time `db:"ended_at" json:"endedAt,omitempty"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updatedAt"`
}

func (c *CallSession) IsParty(userID string) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

// Counterpart returns the other party's id.
func (c *CallSession) Counterpart(userID string) string {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

type CreateCallParams struct {
	ID          string
	CallerID    string
	ReceiverID  string
	Kind        CallKind
	Rate        int64
	Credential  string
	ChannelName string
	CreatedAt   time.Time
}

// RecentCall is one entry of a user's call history as seen by repeat avoidance.
type RecentCall struct {
	CounterpartID string    `db:"counterpart_id"`
	Kind          CallKind  `db:"kind"`
	CreatedAt     time.Time `db:"created_at"`
}

// CallView is the read model returned to the parties of a call.
type CallView struct {
	ID           string     `json:"id"`
	CallerID     string     `json:"callerId"`
	ReceiverID   string     `json:"receiverId"`
	Kind         CallKind   `json:"callType"`
	Status       CallStatus `json:"status"`
	Rate         int64      `json:"rate"`
	Token        string     `json:"token,omitempty"`
	ChannelName  string     `json:"channelName,omitempty"`
	Duration     int64      `json:"duration"`
	CoinsCharged int64      `json:"coinsCharged"`
	BalanceTime  string     `json:"balanceTime,omitempty"`
	Rating       *int       `json:"rating,omitempty"`
	EndReason    *string    `json:"endReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	AcceptedAt   *time.Time `json:"acceptedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}

// NewCallView builds the read model; credentials are only exposed while the call is live.
func NewCallView(c *CallSession) CallView {
	v := CallView{
		ID:           c.ID,
		CallerID:     c.CallerID,
		ReceiverID:   c.ReceiverID,
		Kind:         c.Kind,
		Status:       c.Status,
		Rate:         c.Rate,
		Duration:     c.DurationSeconds,
		CoinsCharged: c.CoinsCharged,
		Rating:       c.Rating,
		EndReason:    c.EndReason,
		CreatedAt:    c.CreatedAt,
		AcceptedAt:   c.AcceptedAt,
		EndedAt:      c.EndedAt,
	}
	if !c.Status.IsTerminal() {
		v.Token = c.Credential
		v.ChannelName = c.ChannelName
	}
	return v
}
