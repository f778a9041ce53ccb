package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu        sync.Mutex
	decisions []Decision
	err       error
}

func (m *memorySink) Emit(ctx context.Context, d Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return m.err
}

func TestTrailEmitsAfterHandler(t *testing.T) {
	sink := &memorySink{}
	var observed []Decision
	trail := Trail{Sink: sink, OnDecision: func(d Decision) { observed = append(observed, d) }}

	r := chi.NewRouter()
	r.Use(trail.Middleware)
	r.Get("/api/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
		Record(r.Context(), NewDecision("roles", "view", 7, true, PathPermission, time.Now()))
		assert.Empty(t, sink.decisions, "decisions must not be emitted before the handler returns")
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/roles/3", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, sink.decisions, 1)
	assert.Equal(t, "GET", sink.decisions[0].Method)
	assert.Equal(t, "/api/roles/{id}", sink.decisions[0].Route)
	assert.Equal(t, "roles.view", sink.decisions[0].Permission())
	assert.Len(t, observed, 1)
}

func TestTrailSinkFailureDoesNotAlterResponse(t *testing.T) {
	sink := &memorySink{err: errors.New("sink down")}
	trail := Trail{Sink: sink}
	handler := trail.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Record(r.Context(), NewDecision("users", "view", 1, false, PathDenied, time.Now()))
		w.WriteHeader(http.StatusForbidden)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Len(t, sink.decisions, 1)
}

func TestRecordOutsideTrailIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		Record(context.Background(), NewDecision("roles", "view", 1, true, PathPermission, time.Now()))
	})
}

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "1"}, nil
}

func TestQueueSinkRoundTrip(t *testing.T) {
	client := &stubEnqueuer{}
	sink := MultiSink{LogSink{}, QueueSink{Client: client, Queue: "audit"}}
	d := NewDecision("requests", "respond", 4, true, PathDepartment, time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC))

	require.NoError(t, sink.Emit(context.Background(), d))
	require.Len(t, client.tasks, 1)
	assert.Equal(t, TaskRecordDecision, client.tasks[0].Type())

	parsed, err := ParseRecordTask(client.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, d.ID, parsed.ID)
	assert.Equal(t, PathDepartment, parsed.Path)
}

func TestQueueSinkWithoutClient(t *testing.T) {
	err := QueueSink{}.Emit(context.Background(), Decision{})
	assert.Error(t, err)
}
