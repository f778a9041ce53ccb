package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	rows       []Decision
	inserted   []Decision
	lastOffset int
	lastLimit  int
	lastFilter TimelineFilters
}

func (s *stubRepo) InsertDecisions(ctx context.Context, decisions []Decision) error {
	s.inserted = append(s.inserted, decisions...)
	return nil
}

func (s *stubRepo) QueryDecisions(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Decision, error) {
	s.lastFilter = filters
	s.lastOffset = offset
	s.lastLimit = limit
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func sampleDecisions(n int) []Decision {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	out := make([]Decision, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, NewDecision("roles", "view", int64(i+1), true, PathPermission, at.Add(time.Duration(i)*time.Minute)))
	}
	return out
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: sampleDecisions(3)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Equal(t, 3, repo.lastLimit)
	assert.Equal(t, 0, repo.lastOffset)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
	assert.False(t, result.Paging.HasNext)
	assert.Equal(t, 1, result.Paging.PrevPage)
	assert.Equal(t, 2, repo.lastOffset)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 5000})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.Equal(t, maxPageSize+1, repo.lastLimit)
	assert.NotNil(t, result.Rows)
}

func TestServicePersistSkipsEmpty(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	require.NoError(t, svc.Persist(context.Background()))
	assert.Empty(t, repo.inserted)

	require.NoError(t, svc.Persist(context.Background(), sampleDecisions(2)...))
	assert.Len(t, repo.inserted, 2)
}

func TestWriteCSV(t *testing.T) {
	rows := sampleDecisions(1)
	rows[0].Method = "GET"
	rows[0].Route = "/api/roles"

	data, err := WriteCSV(rows)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(csvHeader, ","), lines[0])
	assert.Contains(t, lines[1], "roles.view")
	assert.Contains(t, lines[1], "/api/roles")
}
