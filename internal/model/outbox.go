package model

import (
	"encoding/json"
	"time"
)

// OutboxEvent is a notification waiting to be delivered on one channel.
// It is written in the same transaction as the call transition that caused it.
type OutboxEvent struct {
	ID            string            `db:"id" json:"id"`
	UserID        string            `db:"user_id" json:"userId"`
	CallID        string            `db:"call_id" json:"callId"`
	Channel       OutboxChannel     `db:"channel" json:"channel"`
	Event         NotificationEvent `db:"event" json:"event"`
	Payload       json.RawMessage   `db:"payload" json:"payload"`
	Status        OutboxStatus      `db:"status" json:"status"`
	Attempts      int               `db:"attempts" json:"attempts"`
	NextAttemptAt time.Time         `db:"next_attempt_at" json:"nextAttemptAt"`
	LastError     *string           `db:"last_error" json:"lastError,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"createdAt"`
	SentAt        *time.Time        `db:"sent_at" json:"sentAt,omitempty"`
}

type CreateOutboxEventParams struct {
	ID      string
	UserID  string
	CallID  string
	Channel OutboxChannel
	Event   NotificationEvent
	Payload json.RawMessage
}

// NotificationPayload is the body of every call notification. The push
// channel sends it as a flat string map, the relay channel as JSON.
type NotificationPayload struct {
	Type        NotificationEvent `json:"type"`
	CallID      string            `json:"callId"`
	CallType    CallKind          `json:"callType"`
	CallerID    string            `json:"callerId,omitempty"`
	CallerName  string            `json:"callerName,omitempty"`
	Token       string            `json:"token,omitempty"`
	ChannelName string            `json:"channelName,omitempty"`
	BalanceTime string            `json:"balanceTime,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// Data flattens the payload for data-only push messages, dropping empty fields.
func (p NotificationPayload) Data() map[string]string {
	data := map[string]string{
		"type":     string(p.Type),
		"callId":   p.CallID,
		"callType": string(p.CallType),
	}
	optional := map[string]string{
		"callerId":    p.CallerID,
		"callerName":  p.CallerName,
		"token":       p.Token,
		"channelName": p.ChannelName,
		"balanceTime": p.BalanceTime,
		"reason":      p.Reason,
	}
	for k, v := range optional {
		if v != "" {
			data[k] = v
		}
	}
	return data
}
