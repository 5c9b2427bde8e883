package pagination

import (
	"fmt"
	"strconv"

	"callhub-backend/pkg/constants"
)

// Params represents page-based pagination query parameters
type Params struct {
	Page   int `json:"page"`
	Limit  int `json:"limit"`
	Offset int `json:"-"`
}

// Page is a page of results. Without a total count the caller learns
// whether to fetch further from HasMore.
type Page struct {
	Page    int         `json:"page"`
	Limit   int         `json:"limit"`
	HasMore bool        `json:"has_more"`
	Items   interface{} `json:"items"`
}

// Parse parses pagination parameters from the query string.
// Empty values fall back to the first page of constants.DefaultPageSize;
// out of range limits are clamped.
func Parse(pageStr, limitStr string) (*Params, error) {
	page := 1
	limit := constants.DefaultPageSize

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, fmt.Errorf("invalid page parameter: %w", err)
		}
		if p > 1 {
			page = p
		}
	}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < 1:
			limit = 1
		case l > constants.MaxPageSize:
			limit = constants.MaxPageSize
		default:
			limit = l
		}
	}

	return &Params{
		Page:   page,
		Limit:  limit,
		Offset: CalculateOffset(page, limit),
	}, nil
}

// CalculateOffset calculates offset from page and limit
func CalculateOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

// NewPage wraps the items of one page. count is the number of items
// actually returned.
func NewPage(params *Params, count int, items interface{}) *Page {
	return &Page{
		Page:    params.Page,
		Limit:   params.Limit,
		HasMore: count == params.Limit,
		Items:   items,
	}
}
