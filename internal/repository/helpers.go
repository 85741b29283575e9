package repository

import (
	"database/sql"
	"errors"
	"sort"
)

// HandleNotFound processes a database query result, converting sql.ErrNoRows
// to a nil result without error. A missing call or user is not an error
// condition at this layer; services turn it into NOT_FOUND.
//
// Usage:
//
//	var call model.CallSession
//	err := r.db.GetContext(ctx, &call, query, args...)
//	return HandleNotFound(&call, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockOrder returns ids deduplicated and sorted. Rows are always locked in this
// order so two transactions touching the same pair cannot deadlock.
func lockOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
