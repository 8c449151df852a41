package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	events     []Event
	lastOffset int
	lastLimit  int
	lastFilter TimelineFilters
}

func (s *stubTimelineRepo) QueryEvents(_ context.Context, filters TimelineFilters, offset, limit int) ([]Event, error) {
	s.lastFilter = filters
	s.lastOffset = offset
	s.lastLimit = limit
	if len(s.events) > limit {
		return s.events[:limit], nil
	}
	return s.events, nil
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{events: []Event{
		{ID: "3", Type: EventAccessDenied},
		{ID: "2", Type: EventAccessDenied},
		{ID: "1", Type: EventAccessDenied},
	}}
	svc := NewService(repo)

	page, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 2, Severity: "Warning"})
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)
	assert.True(t, page.Paging.HasNext)
	assert.Equal(t, 2, page.Paging.NextPage)
	assert.Equal(t, 3, repo.lastLimit)
	assert.Equal(t, 0, repo.lastOffset)
	assert.Equal(t, "warning", repo.lastFilter.Severity)
}

func TestServiceTimelineDefaults(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	page, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	require.NoError(t, err)
	assert.NotNil(t, page.Events)
	assert.Equal(t, 100, page.Paging.PageSize)
	assert.Equal(t, 2, page.Paging.PrevPage)
	assert.Equal(t, 200, repo.lastOffset)
}

func TestServiceTimelineRejectsBadInput(t *testing.T) {
	svc := NewService(&stubTimelineRepo{})

	_, err := svc.Timeline(context.Background(), TimelineFilters{Severity: "loud"})
	assert.Error(t, err)

	now := time.Now()
	_, err = svc.Timeline(context.Background(), TimelineFilters{From: now, To: now.Add(-time.Hour)})
	assert.Error(t, err)
}
