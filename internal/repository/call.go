package repository

import (
	"context"
	"time"

	"github.com/innovfix/onlycare-calls/internal/database"
	"github.com/innovfix/onlycare-calls/internal/model"
)

type CallRepository interface {
	FindByID(ctx context.Context, id string) (*model.CallSession, error)
	LockByID(ctx context.Context, id string) (*model.CallSession, error)
	Create(ctx context.Context, params model.CreateCallParams) (*model.CallSession, error)
	Update(ctx context.Context, call *model.CallSession) error
	// HasOngoing reports whether userID is a party to an ONGOING call other than excludeID.
	HasOngoing(ctx context.Context, userID string, excludeID string) (bool, error)
	// RecentSince lists the user's calls created at or after since, newest first.
	RecentSince(ctx context.Context, userID string, since time.Time) ([]model.RecentCall, error)
	// LatestOfKind lists the user's most recent calls of kind, newest first.
	LatestOfKind(ctx context.Context, userID string, kind model.CallKind, limit int) ([]model.RecentCall, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.CallSession, error)
	// AverageRating averages every rated, ended call the user received.
	AverageRating(ctx context.Context, receiverID string) (float64, int, error)
	FindStaleConnecting(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
}

type callRepo struct {
	db database.DBTX
}

func (r *callRepo) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	var call model.CallSession
	err := r.db.GetContext(ctx, &call, `SELECT * FROM call_sessions WHERE id = $1`, id)
	return HandleNotFound(&call, err)
}

func (r *callRepo) LockByID(ctx context.Context, id string) (*model.CallSession, error) {
	var call model.CallSession
	err := r.db.GetContext(ctx, &call, `SELECT * FROM call_sessions WHERE id = $1 FOR UPDATE`, id)
	return HandleNotFound(&call, err)
}

func (r *callRepo) Create(ctx context.Context, params model.CreateCallParams) (*model.CallSession, error) {
	var call model.CallSession
	err := r.db.GetContext(ctx, &call, `
		INSERT INTO call_sessions (id, caller_id, receiver_id, kind, status, rate, credential, channel_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'CONNECTING', $5, $6, $7, $8, $8)
		RETURNING *
	`, params.ID, params.CallerID, params.ReceiverID, params.Kind, params.Rate,
		params.Credential, params.ChannelName, params.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (r *callRepo) Update(ctx context.Context, call *model.CallSession) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE call_sessions
		SET status = $2,
			duration_seconds = $3,
			client_duration_seconds = $4,
			coins_charged = $5,
			end_reason = $6,
			rating = $7,
			feedback = $8,
			accepted_at = $9,
			started_at = $10,
			ended_at = $11,
			updated_at = NOW()
		WHERE id = $1
	`, call.ID, call.Status, call.DurationSeconds, call.ClientDurationSeconds, call.CoinsCharged,
		call.EndReason, call.Rating, call.Feedback, call.AcceptedAt, call.StartedAt, call.EndedAt)
	return err
}

func (r *callRepo) HasOngoing(ctx context.Context, userID string, excludeID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM call_sessions
			WHERE status = 'ONGOING'
				AND (caller_id = $1 OR receiver_id = $1)
				AND id::text <> $2
		)
	`, userID, excludeID)
	return exists, err
}

func (r *callRepo) RecentSince(ctx context.Context, userID string, since time.Time) ([]model.RecentCall, error) {
	var calls []model.RecentCall
	err := r.db.SelectContext(ctx, &calls, `
		SELECT CASE WHEN caller_id = $1 THEN receiver_id ELSE caller_id END AS counterpart_id,
			kind, created_at
		FROM call_sessions
		WHERE (caller_id = $1 OR receiver_id = $1) AND created_at >= $2
		ORDER BY created_at DESC
	`, userID, since)
	if err != nil {
		return nil, err
	}
	return calls, nil
}

func (r *callRepo) LatestOfKind(ctx context.Context, userID string, kind model.CallKind, limit int) ([]model.RecentCall, error) {
	var calls []model.RecentCall
	err := r.db.SelectContext(ctx, &calls, `
		SELECT CASE WHEN caller_id = $1 THEN receiver_id ELSE caller_id END AS counterpart_id,
			kind, created_at
		FROM call_sessions
		WHERE (caller_id = $1 OR receiver_id = $1) AND kind = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, kind, limit)
	if err != nil {
		return nil, err
	}
	return calls, nil
}

func (r *callRepo) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.CallSession, error) {
	var calls []model.CallSession
	err := r.db.SelectContext(ctx, &calls, `
		SELECT * FROM call_sessions
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return calls, nil
}

func (r *callRepo) AverageRating(ctx context.Context, receiverID string) (float64, int, error) {
	var result struct {
		Avg   float64 `db:"avg"`
		Count int     `db:"count"`
	}
	err := r.db.GetContext(ctx, &result, `
		SELECT COALESCE(AVG(rating), 0)::float8 AS avg, COUNT(rating) AS count
		FROM call_sessions
		WHERE receiver_id = $1 AND status = 'ENDED' AND rating IS NOT NULL
	`, receiverID)
	if err != nil {
		return 0, 0, err
	}
	return result.Avg, result.Count, nil
}

func (r *callRepo) FindStaleConnecting(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM call_sessions
		WHERE status = 'CONNECTING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
