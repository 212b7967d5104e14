package api

import (
	"net/http"
	"strconv"
)

// PaginationParams holds parsed limit/offset values from query params.
type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination extracts limit and offset from query params. limit falls
// back to defaultLimit and is capped at maxLimit; offset floors at zero.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	return PaginationParams{Limit: limit, Offset: offset}
}
