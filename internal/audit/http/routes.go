package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/rbac"
	"github.com/unidesk/unidesk/internal/shared"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the decision timeline and its CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.RespondError(w, shared.Reject(shared.ErrRateLimited, "Too many audit queries", nil))
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequirePermission(rbac.PermAuditView))
		gr.Use(limiter)
		gr.Get("/", h.handleTimeline)
		gr.Get("/export", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor != nil {
		return string(actor.Kind) + ":" + strconv.FormatInt(actor.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
