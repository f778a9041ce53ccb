package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/unidesk/unidesk/internal/audit"
	"github.com/unidesk/unidesk/internal/auth"
	"github.com/unidesk/unidesk/internal/observability"
	"github.com/unidesk/unidesk/internal/shared"
)

func testConfig() *Config {
	return &Config{
		AppEnv:            "test",
		AppRequestTimeout: 5 * time.Second,
		SessionSecret:     "secret",
		WorkHoursTZ:       "Europe/Istanbul",
		ThrottleBackend:   "memory",
		AuditSink:         "log",
		GlobalRateLimit:   100,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	cases := map[string]func(*Config){
		"missing secret":   func(c *Config) { c.SessionSecret = "" },
		"throttle backend": func(c *Config) { c.ThrottleBackend = "memcached" },
		"audit sink":       func(c *Config) { c.AuditSink = "kafka" },
		"timezone":         func(c *Config) { c.WorkHoursTZ = "Mars/Olympus" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "from-env")
	t.Setenv("THROTTLE_BACKEND", "redis")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Istanbul", cfg.WorkHoursTZ)
	assert.Equal(t, "redis", cfg.ThrottleBackend)
	assert.Equal(t, time.Minute, cfg.ThrottleWindow)
	assert.False(t, cfg.IsProduction())
}

func TestLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestRouterBaseline(t *testing.T) {
	router := NewRouter(RouterParams{Config: testConfig(), Metrics: observability.NewMetrics()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/nowhere", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "unidesk_http_requests_total")
}

func TestGlobalRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalRateLimit = 2
	router := NewRouter(RouterParams{Config: cfg})

	codes := make([]int, 0, 3)
	for range 3 {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.1.1.1:5000"
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

type accountRepo struct{ acc *auth.Account }

func (a accountRepo) FindAdmin(_ context.Context, username string) (*auth.Account, error) {
	if username == a.acc.Username {
		return a.acc, nil
	}
	return nil, shared.ErrNotFound
}

func (a accountRepo) FindStudent(context.Context, string) (*auth.Account, error) {
	return nil, shared.ErrNotFound
}

func (a accountRepo) GetAccount(_ context.Context, _ shared.ActorKind, id int64) (*auth.Account, error) {
	if id == a.acc.ID {
		return a.acc, nil
	}
	return nil, shared.ErrNotFound
}

type sinkRecorder struct{ decisions []audit.Decision }

func (s *sinkRecorder) Emit(_ context.Context, d audit.Decision) error {
	s.decisions = append(s.decisions, d)
	return nil
}

func TestRouterResolvesSessionActor(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := accountRepo{acc: &auth.Account{ID: 3, Kind: shared.ActorAdmin, Username: "root", PasswordHash: string(hash), IsActive: true, IsSuperAdmin: true}}

	mr := miniredis.RunT(t)
	sessions := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "unidesk_session", time.Hour, false)
	authService := auth.NewService(repo)
	sink := &sinkRecorder{}

	router := NewRouter(RouterParams{
		Config:         testConfig(),
		SessionManager: sessions,
		ActorResolver:  authService,
		AuditSink:      sink,
		AuthHandler:    auth.NewHandler(nil, authService, sessions, nil),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/admin/login",
		bytes.NewBufferString(`{"username":"root","password":"admin-pass"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, mr.Exists("session:"+cookies[0].Value))
	assert.Empty(t, sink.decisions, "login makes no authorization decision")
}
