package audit

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

type trailKey struct{}

type trail struct {
	mu        sync.Mutex
	decisions []Decision
}

// Record attaches a decision to the request in flight. It is a no-op outside a Trail.
func Record(ctx context.Context, d Decision) {
	t, _ := ctx.Value(trailKey{}).(*trail)
	if t == nil {
		return
	}
	t.mu.Lock()
	t.decisions = append(t.decisions, d)
	t.mu.Unlock()
}

// Trail collects decisions made while serving a request and emits them once the
// handler has returned. Emission failures are logged and never alter the response.
type Trail struct {
	Sink   Sink
	Logger *slog.Logger
	// OnDecision observes every emitted decision, e.g. for metrics.
	OnDecision func(Decision)
}

// Middleware implements the collection and emission.
func (t Trail) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		collected := &trail{}
		ctx := context.WithValue(r.Context(), trailKey{}, collected)
		r = r.WithContext(ctx)

		next.ServeHTTP(w, r)

		collected.mu.Lock()
		decisions := collected.decisions
		collected.decisions = nil
		collected.mu.Unlock()
		if len(decisions) == 0 {
			return
		}

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		emitCtx := context.WithoutCancel(r.Context())
		for _, d := range decisions {
			d.Method = r.Method
			d.Route = route
			if t.OnDecision != nil {
				t.OnDecision(d)
			}
			if t.Sink == nil {
				continue
			}
			if err := t.Sink.Emit(emitCtx, d); err != nil && t.Logger != nil {
				t.Logger.Warn("audit emit", slog.String("decision_id", d.ID.String()), slog.Any("error", err))
			}
		}
	})
}
