package audit

import (
	"context"
	"fmt"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxExportRows   = 10000
)

// Repository exposes the persisted decision log.
type Repository interface {
	InsertDecisions(ctx context.Context, decisions []Decision) error
	QueryDecisions(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Decision, error)
}

// Service reads and writes the decision log.
type Service struct {
	repo Repository
}

// NewService builds the audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Persist stores decisions delivered by the worker.
func (s *Service) Persist(ctx context.Context, decisions ...Decision) error {
	if s.repo == nil {
		return fmt.Errorf("audit: repository not configured")
	}
	if len(decisions) == 0 {
		return nil
	}
	return s.repo.InsertDecisions(ctx, decisions)
}

// Timeline returns one page of decisions, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.QueryDecisions(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []Decision{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every decision matching filters, capped at maxExportRows.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Decision, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.QueryDecisions(ctx, filters, 0, maxExportRows)
}
