package workhours

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidesk/unidesk/internal/shared"
)

func istanbul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTimezone)
	require.NoError(t, err)
	return loc
}

func TestIsWithinWorkingHours(t *testing.T) {
	loc := istanbul(t)
	// 2025-03-10 is a Monday.
	cases := []struct {
		name    string
		at      time.Time
		allowed bool
		reason  Reason
	}{
		{"monday morning", time.Date(2025, 3, 10, 9, 0, 0, 0, loc), true, ""},
		{"before opening", time.Date(2025, 3, 10, 7, 0, 0, 0, loc), false, ReasonTooEarly},
		{"after closing", time.Date(2025, 3, 10, 18, 0, 0, 0, loc), false, ReasonTooLate},
		{"saturday", time.Date(2025, 3, 15, 10, 0, 0, 0, loc), false, ReasonWeekend},
		{"opening instant", time.Date(2025, 3, 10, 8, 30, 0, 0, loc), true, ""},
		{"one second before opening", time.Date(2025, 3, 10, 8, 29, 59, 0, loc), false, ReasonTooEarly},
		{"closing instant", time.Date(2025, 3, 10, 17, 30, 0, 0, loc), false, ReasonTooLate},
		{"last minute", time.Date(2025, 3, 10, 17, 29, 59, 0, loc), true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := IsWithinWorkingHours(tc.at.UTC(), DefaultTimezone)
			assert.Equal(t, tc.allowed, res.IsAllowed)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, tc.at.Hour(), res.CurrentLocalTime.Hour(), "converted to local time")
		})
	}
}

func TestUnknownTimezoneFailsClosed(t *testing.T) {
	p := NewPolicy("Mars/Olympus_Mons")
	require.Error(t, p.Err())
	res := p.Check(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	assert.False(t, res.IsAllowed)
	assert.Equal(t, ReasonError, res.Reason)

	assert.Equal(t, ReasonError, Policy{}.Check(time.Now()).Reason)
}

func TestNextWorkingTime(t *testing.T) {
	loc := istanbul(t)
	p := NewPolicy(DefaultTimezone)

	cases := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"same day before opening", time.Date(2025, 3, 10, 7, 0, 0, 0, loc), time.Date(2025, 3, 10, 8, 30, 0, 0, loc)},
		{"next day after closing", time.Date(2025, 3, 10, 18, 0, 0, 0, loc), time.Date(2025, 3, 11, 8, 30, 0, 0, loc)},
		{"friday evening rolls to monday", time.Date(2025, 3, 14, 18, 0, 0, 0, loc), time.Date(2025, 3, 17, 8, 30, 0, 0, loc)},
		{"saturday rolls to monday", time.Date(2025, 3, 15, 10, 0, 0, 0, loc), time.Date(2025, 3, 17, 8, 30, 0, 0, loc)},
	}
	for _, tc := range cases {
		got := p.NextWorkingTime(tc.from)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.name, got)
	}
}

func TestGate(t *testing.T) {
	loc := istanbul(t)
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, loc)
	var reasons []string
	gate := Gate{
		Policy:   NewPolicy(DefaultTimezone),
		Now:      func() time.Time { return now },
		OnReject: func(reason string) { reasons = append(reasons, reason) },
	}
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/requests", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), &shared.Actor{ID: 1, Kind: shared.ActorStudent}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusLocked, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "weekend", body["reason"])
	assert.Equal(t, "2025-03-15T10:00:00+03:00", body["currentTime"])
	assert.Equal(t, "2025-03-17T08:30:00+03:00", body["nextAvailableTime"])
	window := body["workingHours"].(map[string]any)
	assert.Equal(t, "08:30", window["start"])
	assert.Equal(t, "17:30", window["end"])
	assert.Equal(t, DefaultTimezone, window["timezone"])

	admin := httptest.NewRequest(http.MethodPost, "/api/requests", nil)
	admin = admin.WithContext(shared.ContextWithActor(admin.Context(), &shared.Actor{ID: 1, Kind: shared.ActorAdmin}))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, admin)
	assert.Equal(t, http.StatusCreated, rr.Code, "admins bypass the gate")

	assert.Equal(t, []string{"weekend"}, reasons)
}

func TestGateFailsClosed(t *testing.T) {
	gate := Gate{Policy: NewPolicy("Nowhere/Invalid")}
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/requests", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusLocked, rr.Code)
}
