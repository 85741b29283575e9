package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/innovfix/onlycare-calls/internal/database"
	"github.com/innovfix/onlycare-calls/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	// LockByIDs loads the rows FOR UPDATE in ascending id order. Missing ids are absent from the map.
	LockByIDs(ctx context.Context, ids ...string) (map[string]*model.User, error)
	SetBusy(ctx context.Context, id string, busy bool) error
	// ApplyCoins adds the deltas atomically; returns ErrInsufficientBalance if the balance would go negative.
	ApplyCoins(ctx context.Context, id string, balanceDelta, earningsDelta int64) error
	UpdateRating(ctx context.Context, id string, rating float64, count int) error
	// ClearPushToken removes the registration only if it still equals token.
	ClearPushToken(ctx context.Context, id string, token string) (bool, error)
	IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error)
	FindMatchPool(ctx context.Context, q model.MatchPoolQuery) ([]model.MatchCandidate, error)
	// RepairBusyFlags reconciles every busy flag with the ONGOING sessions that reference the user.
	RepairBusyFlags(ctx context.Context) (model.BusyRepair, error)
}

type userRepo struct {
	db database.DBTX
}

const ongoingCallForUser = `
	SELECT 1 FROM call_sessions c
	WHERE c.status = 'ONGOING' AND (c.caller_id = u.id OR c.receiver_id = u.id)`

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	return HandleNotFound(&user, err)
}

func (r *userRepo) LockByIDs(ctx context.Context, ids ...string) (map[string]*model.User, error) {
	var users []model.User
	err := r.db.SelectContext(ctx, &users, `
		SELECT * FROM users
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, pq.Array(lockOrder(ids)))
	if err != nil {
		return nil, err
	}

	out := make(map[string]*model.User, len(users))
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func (r *userRepo) SetBusy(ctx context.Context, id string, busy bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET busy = $2, updated_at = NOW() WHERE id = $1
	`, id, busy)
	return err
}

func (r *userRepo) ApplyCoins(ctx context.Context, id string, balanceDelta, earningsDelta int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET coin_balance = coin_balance + $2,
			total_earnings = total_earnings + $3,
			updated_at = NOW()
		WHERE id = $1 AND coin_balance + $2 >= 0
	`, id, balanceDelta, earningsDelta)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("apply %d coins to %s: %w", balanceDelta, id, ErrInsufficientBalance)
	}
	return nil
}

func (r *userRepo) UpdateRating(ctx context.Context, id string, rating float64, count int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET rating = $2, rating_count = $3, updated_at = NOW() WHERE id = $1
	`, id, rating, count)
	return err
}

func (r *userRepo) ClearPushToken(ctx context.Context, id string, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET push_token = NULL, updated_at = NOW()
		WHERE id = $1 AND push_token = $2
	`, id, token)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *userRepo) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2)
	`, blockerID, blockedID)
	return exists, err
}

func (r *userRepo) FindMatchPool(ctx context.Context, q model.MatchPoolQuery) ([]model.MatchCandidate, error) {
	var candidates []model.MatchCandidate
	err := r.db.SelectContext(ctx, &candidates, `
		SELECT u.id, u.total_earnings FROM users u
		WHERE u.active AND u.online AND NOT u.busy
			AND u.id <> $1
			AND u.gender = $2
			AND ($3 = '' OR u.language = $3)
			AND (CASE WHEN $4 = 'AUDIO' THEN u.audio_enabled ELSE u.video_enabled END)
			AND NOT EXISTS (
				SELECT 1 FROM user_blocks b
				WHERE (b.blocker_id = u.id AND b.blocked_id = $1)
					OR (b.blocker_id = $1 AND b.blocked_id = u.id)
			)
			AND NOT EXISTS (`+ongoingCallForUser+`)
		ORDER BY u.id
	`, q.RequesterID, q.Gender, q.Language, q.Kind)
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *userRepo) RepairBusyFlags(ctx context.Context) (model.BusyRepair, error) {
	var repair model.BusyRepair

	result, err := r.db.ExecContext(ctx, `
		UPDATE users u SET busy = FALSE, updated_at = NOW()
		WHERE u.busy AND NOT EXISTS (`+ongoingCallForUser+`)
	`)
	if err != nil {
		return repair, fmt.Errorf("clear stale busy flags: %w", err)
	}
	if repair.Cleared, err = result.RowsAffected(); err != nil {
		return repair, err
	}

	result, err = r.db.ExecContext(ctx, `
		UPDATE users u SET busy = TRUE, updated_at = NOW()
		WHERE NOT u.busy AND EXISTS (`+ongoingCallForUser+`)
	`)
	if err != nil {
		return repair, fmt.Errorf("set missing busy flags: %w", err)
	}
	if repair.Set, err = result.RowsAffected(); err != nil {
		return repair, err
	}

	return repair, nil
}
