package handler

import (
	"net/http"
	"strconv"

	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
)

// Call history pages are newest first.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 50
)

type HistoryPage struct {
	Limit  int
	Offset int
}

// ParseHistoryPage reads limit and offset. A limit above the cap is clamped
// rather than rejected; values that are not numbers are an INVALID_REQUEST.
func ParseHistoryPage(r *http.Request) (HistoryPage, error) {
	page := HistoryPage{Limit: DefaultHistoryLimit}
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return HistoryPage{}, apperrors.InvalidInput("limit", "must be a number")
		}
		switch {
		case limit > MaxHistoryLimit:
			page.Limit = MaxHistoryLimit
		case limit > 0:
			page.Limit = limit
		}
	}

	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return HistoryPage{}, apperrors.InvalidInput("offset", "must be a number")
		}
		if offset > 0 {
			page.Offset = offset
		}
	}

	return page, nil
}
