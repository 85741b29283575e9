package repository

import (
	"context"

	"github.com/innovfix/onlycare-calls/internal/database"
	"github.com/innovfix/onlycare-calls/internal/model"
)

// LedgerRepository is append-only: entries are never updated or deleted.
type LedgerRepository interface {
	Create(ctx context.Context, params model.CreateLedgerEntryParams) (*model.LedgerEntry, error)
	FindByCall(ctx context.Context, callID string) ([]model.LedgerEntry, error)
}

type ledgerRepo struct {
	db database.DBTX
}

func (r *ledgerRepo) Create(ctx context.Context, params model.CreateLedgerEntryParams) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.GetContext(ctx, &entry, `
		INSERT INTO ledger_entries (id, user_id, call_id, kind, coins, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.ID, params.UserID, params.CallID, params.Kind, params.Coins, params.Amount, params.Status)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *ledgerRepo) FindByCall(ctx context.Context, callID string) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM ledger_entries WHERE call_id = $1 ORDER BY kind DESC
	`, callID)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
