package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/shared"
)

// Throttle limits how often one actor may run one operation.
type Throttle struct {
	counter Counter
	limit   int
	window  time.Duration
	logger  *slog.Logger
	now     func() time.Time
	// OnReject observes rejected operations, e.g. for metrics.
	OnReject func(op string)
}

// New builds a Throttle allowing limit calls per window, counted in counter.
// A nil counter keeps windows in memory.
func New(counter Counter, limit int, window time.Duration, logger *slog.Logger) *Throttle {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	if counter == nil {
		counter = NewMemoryCounter(window)
	}
	return &Throttle{counter: counter, limit: limit, window: window, logger: logger, now: time.Now}
}

// Middleware throttles op per resolved actor, falling back to the client IP.
// Counter failures reject the call.
func (t *Throttle) Middleware(op string) func(http.Handler) http.Handler {
	if t == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := httprate.NewRateLimiter(t.limit, t.window,
		httprate.WithKeyFuncs(httprate.Key(op), subjectKey),
		httprate.WithLimitCounter(t.counter),
		httprate.WithLimitHandler(t.limited(op)),
		httprate.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			t.logger.Error("throttle counter failed", slog.String("operation", op), slog.Any("error", err))
			httpx.RespondError(w, shared.ErrInternal)
		}),
	)
	return limiter.Handler
}

func (t *Throttle) limited(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if t.OnReject != nil {
			t.OnReject(op)
		}
		retry := t.retryAfter()
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		httpx.RespondError(w, shared.Reject(shared.ErrRateLimited, "Too many requests, please slow down", map[string]any{
			"operation":         op,
			"limit":             t.limit,
			"retryAfterSeconds": retry,
		}))
	}
}

// retryAfter returns the whole seconds until the current window closes.
func (t *Throttle) retryAfter() int {
	now := t.now().UTC()
	left := now.Truncate(t.window).Add(t.window).Sub(now)
	retry := int(math.Ceil(left.Seconds()))
	if retry < 1 {
		retry = 1
	}
	return retry
}

func subjectKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor != nil {
		return string(actor.Kind) + ":" + strconv.FormatInt(actor.ID, 10), nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
