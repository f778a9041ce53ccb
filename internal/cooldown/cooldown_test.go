package cooldown

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidesk/unidesk/internal/shared"
)

type limitKey struct {
	student    int64
	department shared.Department
}

type fakeStore struct {
	mu   sync.Mutex
	rows map[limitKey]time.Time
	err  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[limitKey]time.Time)}
}

func (f *fakeStore) LastRequest(_ context.Context, studentID int64, department shared.Department) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	t, ok := f.rows[limitKey{studentID, department}]
	return t, ok, nil
}

func (f *fakeStore) Claim(_ context.Context, studentID int64, department shared.Department, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := limitKey{studentID, department}
	if last, ok := f.rows[key]; ok && last.After(at.Add(-Window)) {
		return false, nil
	}
	f.rows[key] = at
	return true, nil
}

func (f *fakeStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.rows {
		if t.Before(cutoff) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

type fakeResolver map[int64]shared.Department

func (f fakeResolver) ResolveDepartment(_ context.Context, typeID int64) (shared.Department, error) {
	if d, ok := f[typeID]; ok {
		return d, nil
	}
	return "", shared.Reject(shared.ErrNotFound, "Request type not found", nil)
}

var base = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func newService(store Store, now time.Time) *Service {
	svc := NewService(store, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func TestEvaluateBoundaries(t *testing.T) {
	a := Evaluate(base, base.Add(23*time.Hour+59*time.Minute))
	assert.False(t, a.Available)
	assert.EqualValues(t, 1, a.HoursRemaining)
	require.NotNil(t, a.NextAvailableTime)
	assert.Equal(t, base.Add(24*time.Hour), *a.NextAvailableTime)

	a = Evaluate(base, base.Add(24*time.Hour))
	assert.True(t, a.Available)
	assert.Zero(t, a.HoursRemaining)

	a = Evaluate(base, base.Add(90*time.Minute))
	assert.EqualValues(t, 23, a.HoursRemaining)

	a = Evaluate(base, base.Add(-time.Hour))
	assert.False(t, a.Available, "clock skew never frees the window early")
	assert.EqualValues(t, 24, a.HoursRemaining)
}

func TestCheckAvailability(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	a, err := newService(store, base).CheckAvailability(ctx, 1, shared.DepartmentAcademic)
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Zero(t, a.HoursRemaining)
	assert.Nil(t, a.LastRequestTime)

	require.NoError(t, Record(ctx, store, 1, shared.DepartmentAcademic, base))
	a, err = newService(store, base.Add(2*time.Hour)).CheckAvailability(ctx, 1, shared.DepartmentAcademic)
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.EqualValues(t, 22, a.HoursRemaining)
	assert.Equal(t, shared.DepartmentAcademic, a.Department)

	a, err = newService(store, base.Add(2*time.Hour)).CheckAvailability(ctx, 1, shared.DepartmentDormitory)
	require.NoError(t, err)
	assert.True(t, a.Available, "cooldowns are per department")

	_, err = newService(store, base).CheckAvailability(ctx, 1, shared.Department("library"))
	assert.ErrorIs(t, err, shared.ErrInvalid)

	store.err = errors.New("connection refused")
	_, err = newService(store, base).CheckAvailability(ctx, 1, shared.DepartmentAcademic)
	assert.Error(t, err)
}

func TestRecordRefusesActiveCooldown(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	require.NoError(t, Record(ctx, store, 5, shared.DepartmentAccounting, base))

	err := Record(ctx, store, 5, shared.DepartmentAccounting, base.Add(time.Minute))
	require.ErrorIs(t, err, shared.ErrRateLimited)
	rej, ok := shared.RejectionFrom(err)
	require.True(t, ok)
	assert.Equal(t, "accounting", rej.Fields["department"])
	assert.Equal(t, base, store.rows[limitKey{5, shared.DepartmentAccounting}], "a refused claim keeps the stored time")

	require.NoError(t, Record(ctx, store, 5, shared.DepartmentAccounting, base.Add(Window)))
	assert.Len(t, store.rows, 1)
	assert.Equal(t, base.Add(Window), store.rows[limitKey{5, shared.DepartmentAccounting}])

	require.NoError(t, Record(ctx, store, 5, shared.DepartmentAcademic, base.Add(time.Minute)), "departments are independent")
	assert.ErrorIs(t, Record(ctx, store, 5, shared.Department(""), base), shared.ErrInvalid)
}

func TestPurgeExpired(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	require.NoError(t, Record(ctx, store, 1, shared.DepartmentAcademic, base.Add(-25*time.Hour)))
	require.NoError(t, Record(ctx, store, 2, shared.DepartmentAcademic, base.Add(-time.Hour)))

	n, err := newService(store, base).PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, store.rows, 1)
}

func gateRequest(t *testing.T, actor *shared.Actor, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/api/requests", &buf)
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	}
	return req
}

func TestGate(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, Record(context.Background(), store, 7, shared.DepartmentDormitory, base.Add(-23*time.Hour-59*time.Minute)))

	var reasons []string
	gate := Gate{
		Service:  newService(store, base),
		Resolver: fakeResolver{1: shared.DepartmentAcademic, 2: shared.DepartmentDormitory},
		OnReject: func(reason string) { reasons = append(reasons, reason) },
	}

	var admitted Admission
	var forwarded []byte
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admitted, _ = AdmissionFromContext(r.Context())
		forwarded, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	student := &shared.Actor{ID: 7, Kind: shared.ActorStudent}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, gateRequest(t, student, map[string]any{"request_type_id": 1, "title": "Transcript"}))
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, Admission{StudentID: 7, Department: shared.DepartmentAcademic, RequestTypeID: 1}, admitted)
	assert.Contains(t, string(forwarded), "Transcript", "body is restored for the handler")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, gateRequest(t, student, map[string]any{"request_type_id": 2}))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "dormitory", body["department"])
	assert.EqualValues(t, 1, body["hoursRemaining"])
	assert.Equal(t, base.Add(time.Minute).Format(time.RFC3339), body["nextAvailableTime"])
	assert.NotEmpty(t, body["lastRequestTime"])

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, gateRequest(t, student, map[string]any{"request_type_id": 99}))
	assert.Equal(t, http.StatusNotFound, rr.Code, "unknown types are not cooldown rejections")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, gateRequest(t, student, map[string]any{"title": "missing type"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, gateRequest(t, nil, map[string]any{"request_type_id": 1}))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	assert.Equal(t, []string{"cooldown", "request_type", "invalid"}, reasons)
}

func TestGateAdminTargetsStudent(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, Record(context.Background(), store, 8, shared.DepartmentAcademic, base.Add(-time.Hour)))
	gate := Gate{Service: newService(store, base), Resolver: fakeResolver{1: shared.DepartmentAcademic}}
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	staff := &shared.Actor{ID: 8, Kind: shared.ActorAdmin}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, gateRequest(t, staff, map[string]any{"request_type_id": 1}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, gateRequest(t, staff, map[string]any{"request_type_id": 1, "student_id": 8}))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code, "admins submitting for a student hit that student's cooldown")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, gateRequest(t, staff, map[string]any{"request_type_id": 1, "student_id": 9}))
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestGateFailsClosedOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.err = fmt.Errorf("cooldown: load last request: %w", errors.New("timeout"))
	gate := Gate{Service: newService(store, base), Resolver: fakeResolver{1: shared.DepartmentAcademic}}
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, gateRequest(t, &shared.Actor{ID: 1, Kind: shared.ActorStudent}, map[string]any{"request_type_id": 1}))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
