package handler

import (
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type PaginationParams struct {
	Limit  int
	Offset int
}

func ParsePagination(r *http.Request) PaginationParams {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}

	if offset < 0 {
		offset = 0
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}

// parseSince reads the RFC3339 "since" query parameter, defaulting to now
// minus fallback when it is absent.
func parseSince(r *http.Request, now time.Time, fallback time.Duration) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return now.Add(-fallback), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
