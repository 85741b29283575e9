package repository

import (
	"context"
	"time"

	"github.com/innovfix/onlycare-calls/internal/database"
	"github.com/innovfix/onlycare-calls/internal/model"
)

type OutboxRepository interface {
	Create(ctx context.Context, params model.CreateOutboxEventParams) (*model.OutboxEvent, error)
	// ClaimDue leases up to limit pending events due at now. A claimed event is
	// hidden from other workers until leaseUntil and its attempt count is bumped.
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]model.OutboxEvent, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	CountPending(ctx context.Context) (int, error)
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

type outboxRepo struct {
	db database.DBTX
}

func (r *outboxRepo) Create(ctx context.Context, params model.CreateOutboxEventParams) (*model.OutboxEvent, error) {
	var event model.OutboxEvent
	err := r.db.GetContext(ctx, &event, `
		INSERT INTO notification_outbox (id, user_id, call_id, channel, event, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.ID, params.UserID, params.CallID, params.Channel, params.Event, []byte(params.Payload))
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *outboxRepo) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]model.OutboxEvent, error) {
	var events []model.OutboxEvent
	err := r.db.SelectContext(ctx, &events, `
		UPDATE notification_outbox
		SET next_attempt_at = $2, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM notification_outbox
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, now, leaseUntil, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *outboxRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notification_outbox SET status = 'sent', sent_at = $2, last_error = NULL WHERE id = $1
	`, id, sentAt)
	return err
}

func (r *outboxRepo) MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notification_outbox SET next_attempt_at = $2, last_error = $3 WHERE id = $1
	`, id, nextAttemptAt, lastError)
	return err
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notification_outbox SET status = 'failed', last_error = $2 WHERE id = $1
	`, id, lastError)
	return err
}

func (r *outboxRepo) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notification_outbox WHERE status = 'pending'`)
	return count, err
}

func (r *outboxRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM notification_outbox
		WHERE status IN ('sent', 'failed') AND created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
