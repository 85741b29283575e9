package model

import "strings"

type CallKind string

const (
	CallKindAudio CallKind = "AUDIO"
	CallKindVideo CallKind = "VIDEO"
)

// ParseCallKind accepts the kind case-insensitively.
func ParseCallKind(s string) (CallKind, bool) {
	switch CallKind(strings.ToUpper(strings.TrimSpace(s))) {
	case CallKindAudio:
		return CallKindAudio, true
	case CallKindVideo:
		return CallKindVideo, true
	}
	return "", false
}

type CallStatus string

const (
	CallStatusConnecting CallStatus = "CONNECTING"
	CallStatusOngoing    CallStatus = "ONGOING"
	CallStatusEnded      CallStatus = "ENDED"
	CallStatusRejected   CallStatus = "REJECTED"
	CallStatusCancelled  CallStatus = "CANCELLED"
	CallStatusMissed     CallStatus = "MISSED"
)

func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusRejected, CallStatusCancelled, CallStatusMissed:
		return true
	}
	return false
}

// Gender decides the economic role in a call: MALE always pays, FEMALE always earns.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

func (g Gender) IsPayer() bool {
	return g == GenderMale
}

func (g Gender) IsEarner() bool {
	return g == GenderFemale
}

type LedgerKind string

const (
	LedgerKindSpend LedgerKind = "SPEND"
	LedgerKindEarn  LedgerKind = "EARN"
)

type LedgerStatus string

const (
	LedgerStatusSettled    LedgerStatus = "SETTLED"
	LedgerStatusZeroCharge LedgerStatus = "ZERO_CHARGE"
	// Payer could not cover the charge at settlement; recorded at zero.
	LedgerStatusShortfall LedgerStatus = "SHORTFALL"
)

type OutboxChannel string

const (
	OutboxChannelPush  OutboxChannel = "push"
	OutboxChannelRelay OutboxChannel = "relay"
)

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

type NotificationEvent string

const (
	EventIncomingCall  NotificationEvent = "incoming_call"
	EventCallAccepted  NotificationEvent = "call_accepted"
	EventCallRejected  NotificationEvent = "call_rejected"
	EventCallCancelled NotificationEvent = "call_cancelled"
	EventCallEnded     NotificationEvent = "call_ended"
	EventCallMissed    NotificationEvent = "call_missed"
)
