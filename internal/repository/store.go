package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/innovfix/onlycare-calls/internal/database"
)

// ErrInsufficientBalance is returned when a balance update would drive a user negative.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Store groups the repositories a call transition touches. WithinTx runs fn
// against a Store bound to one transaction; calling WithinTx on that bound
// Store joins the same transaction.
type Store interface {
	Users() UserRepository
	Calls() CallRepository
	Ledger() LedgerRepository
	Outbox() OutboxRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type pgStore struct {
	db     *database.DB
	users  *userRepo
	calls  *callRepo
	ledger *ledgerRepo
	outbox *outboxRepo
}

func NewStore(db *database.DB) Store {
	return &pgStore{
		db:     db,
		users:  &userRepo{db: db.DB},
		calls:  &callRepo{db: db.DB},
		ledger: &ledgerRepo{db: db.DB},
		outbox: &outboxRepo{db: db.DB},
	}
}

func (s *pgStore) Users() UserRepository { return s.users }
func (s *pgStore) Calls() CallRepository { return s.calls }
func (s *pgStore) Ledger() LedgerRepository { return s.ledger }
func (s *pgStore) Outbox() OutboxRepository { return s.outbox }

func (s *pgStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&pgTxStore{
			users:  &userRepo{db: tx},
			calls:  &callRepo{db: tx},
			ledger: &ledgerRepo{db: tx},
			outbox: &outboxRepo{db: tx},
		})
	})
}

type pgTxStore struct {
	users  *userRepo
	calls  *callRepo
	ledger *ledgerRepo
	outbox *outboxRepo
}

func (s *pgTxStore) Users() UserRepository { return s.users }
func (s *pgTxStore) Calls() CallRepository { return s.calls }
func (s *pgTxStore) Ledger() LedgerRepository { return s.ledger }
func (s *pgTxStore) Outbox() OutboxRepository { return s.outbox }

func (s *pgTxStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(s)
}
