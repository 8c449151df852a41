package audit

import (
	"context"
	"fmt"
	"strings"
)

// TimelineRepository reads persisted events.
type TimelineRepository interface {
	QueryEvents(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Event, error)
}

// Service serves the paged audit timeline.
type Service struct {
	repo TimelineRepository
}

// NewService builds a timeline service.
func NewService(repo TimelineRepository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of events, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (TimelinePage, error) {
	if s.repo == nil {
		return TimelinePage{}, fmt.Errorf("audit: repository not configured")
	}
	if sev := strings.TrimSpace(filters.Severity); sev != "" {
		parsed, err := ParseSeverity(sev)
		if err != nil {
			return TimelinePage{}, err
		}
		filters.Severity = string(parsed)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.To.Before(filters.From) {
		return TimelinePage{}, fmt.Errorf("audit: range end before start")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	events, err := s.repo.QueryEvents(ctx, filters, (page-1)*pageSize, pageSize+1)
	if err != nil {
		return TimelinePage{}, err
	}
	hasNext := len(events) > pageSize
	if hasNext {
		events = events[:pageSize]
	}
	if events == nil {
		events = []Event{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return TimelinePage{Events: events, Paging: paging}, nil
}
