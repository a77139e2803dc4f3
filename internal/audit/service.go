package audit

import (
	"context"
	"fmt"
)

// Repository reads audit entries.
type Repository interface {
	Window(ctx context.Context, arg WindowParams) ([]TimelineRow, error)
}

// Result wraps a timeline page with paging information.
type Result struct {
	Rows   []TimelineRow `json:"data"`
	Paging PagingInfo    `json:"paging"`
}

// Service coordinates audit log retrieval.
type Service struct {
	repo Repository
}

// NewService creates an audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit entries.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params := window(filters)
	params.Offset = int32((page - 1) * pageSize)
	params.Limit = int32(pageSize + 1)
	rows, err := s.repo.Window(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching entry without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.Window(ctx, window(filters))
}

func window(f TimelineFilters) WindowParams {
	return WindowParams{
		From:        toPgTime(f.From),
		To:          toPgTime(f.To),
		Module:      optionalText(f.Module),
		PerformedBy: optionalInt(f.PerformedBy),
		Target:      optionalInt(f.Target),
	}
}
