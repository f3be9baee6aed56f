package shared

import "math"

const (
	// DefaultPerPage applies when callers omit a page size.
	DefaultPerPage = 20
	// MaxPerPage caps listing page sizes.
	MaxPerPage = 200
)

// ListFilters represents standard list filters.
type ListFilters struct {
	Page    int
	PerPage int
	Search  string
}

// Normalize clamps paging values to sane defaults.
func (f ListFilters) Normalize() ListFilters {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

// Offset returns the zero-based row offset for the page.
func (f ListFilters) Offset() int {
	n := f.Normalize()
	return (n.Page - 1) * n.PerPage
}

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}
