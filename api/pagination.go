package api

import (
	"math"
	"net/http"
	"strconv"

	"responder/core"
)

// PaginationParams holds pagination query parameters
type PaginationParams struct {
	Page  int `json:"page"`  // 1-based page number
	Limit int `json:"limit"` // Items per page
}

// PaginationResponse is a generic paginated response wrapper
type PaginationResponse struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// ParsePaginationParams extracts pagination parameters from the request,
// clamping to the service limits.
func ParsePaginationParams(r *http.Request) PaginationParams {
	page := 1
	limit := core.DefaultPageLimit

	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			if parsed > 1000000 {
				page = 1000000
			} else {
				page = parsed
			}
		}
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > core.MaxPageLimit {
				limit = core.MaxPageLimit
			}
		}
	}

	return PaginationParams{Page: page, Limit: limit}
}

// CalculateOffset converts page and limit to a query offset.
func (p PaginationParams) CalculateOffset() int {
	if p.Page <= 1 {
		return 0
	}
	offset := (p.Page - 1) * p.Limit
	if offset < 0 || offset > math.MaxInt32 {
		return math.MaxInt32
	}
	return offset
}

// NewPaginationResponse wraps items with paging metadata.
func NewPaginationResponse(items interface{}, total int64, params PaginationParams) PaginationResponse {
	totalPages := 0
	if params.Limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(params.Limit)))
	}
	return PaginationResponse{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		Limit:      params.Limit,
		TotalPages: totalPages,
	}
}
