package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEntry struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"userId"`
	CallID    string          `db:"call_id" json:"callId"`
	Kind      LedgerKind      `db:"kind" json:"kind"`
	Coins     int64           `db:"coins" json:"coins"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    LedgerStatus    `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

type CreateLedgerEntryParams struct {
	ID     string
	UserID string
	CallID string
	Kind   LedgerKind
	Coins  int64
	Amount decimal.Decimal
	Status LedgerStatus
}
