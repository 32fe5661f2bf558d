package types

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxScanSize = 500

// ScanRequest is the paginated/filtered listing request used by admin APIs.
type ScanRequest struct {
	Filters   []*CommonFilter `json:"filters"`
	From      int             `json:"from"`
	Size      int             `json:"size"`
	SortBy    string          `json:"sort_by"`
	SortOrder string          `json:"sort_order"`
}

type ScanResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

// FiltersAnd combines CommonFilters into a single conjunction.
type FiltersAnd struct{ Filters []*CommonFilter }

func (w FiltersAnd) Build(builder clause.Builder) {
	if len(w.Filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.Filters))
	for _, f := range w.Filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// Scan counts and lists rows of q (a Model-scoped query) according to req.
// Only columns in allowed may be filtered or sorted on; filters are validated first.
func Scan[T any](q *gorm.DB, req *ScanRequest, allowed map[string]bool, defaultSort string) (*ScanResponse[T], error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.Size > maxScanSize {
		req.Size = maxScanSize
	}
	if req.From < 0 {
		req.From = 0
	}
	for _, f := range req.Filters {
		if err := f.Validate(allowed); err != nil {
			return nil, err
		}
	}
	if len(req.Filters) > 0 {
		q = q.Where(clause.Where{Exprs: []clause.Expression{FiltersAnd{Filters: req.Filters}}})
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count: %w", err)
	}

	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = defaultSort
	}
	if !allowed[sortBy] {
		return nil, fmt.Errorf("sort on %q is not allowed", sortBy)
	}
	desc := !strings.EqualFold(req.SortOrder, "asc")

	var rows []T
	err := q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: desc}}}).
		Limit(req.Size).
		Offset(req.From).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list: %w", err)
	}
	return &ScanResponse[T]{Items: rows, Total: total}, nil
}
