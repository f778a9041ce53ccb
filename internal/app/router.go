package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/unidesk/unidesk/internal/audit"
	audithttp "github.com/unidesk/unidesk/internal/audit/http"
	"github.com/unidesk/unidesk/internal/auth"
	"github.com/unidesk/unidesk/internal/observability"
	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/rbac"
	"github.com/unidesk/unidesk/internal/requests"
	"github.com/unidesk/unidesk/internal/roles"
	"github.com/unidesk/unidesk/internal/shared"
	"github.com/unidesk/unidesk/internal/users"
	"github.com/unidesk/unidesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	ActorResolver  auth.ActorResolver
	AuditSink      audit.Sink
	Metrics        *observability.Metrics

	AuthHandler        *auth.Handler
	AccessHandler      *rbac.AccessHandler
	PermissionsHandler *rbac.PermissionsHandler
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	RequestsHandler    *requests.Handler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with the API surface mounted under /api.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		ActorResolver:  params.ActorResolver,
		AuditSink:      params.AuditSink,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondError(w, shared.Reject(shared.ErrNotFound, "Route not found", nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(api chi.Router) {
		if params.AuthHandler != nil {
			api.Route("/auth", params.AuthHandler.MountRoutes)
		}
		api.Group(func(authed chi.Router) {
			authed.Use(auth.RequireActor)
			if params.AccessHandler != nil {
				authed.Route("/rbac", params.AccessHandler.MountRoutes)
			}
			if params.RolesHandler != nil {
				authed.Route("/roles", params.RolesHandler.MountRoutes)
				authed.Route("/users/{id}/roles", params.RolesHandler.MountAssignmentRoutes)
			}
			if params.PermissionsHandler != nil {
				authed.Route("/permissions", params.PermissionsHandler.MountRoutes)
			}
			if params.UsersHandler != nil {
				authed.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.RequestsHandler != nil {
				authed.Route("/request-types", params.RequestsHandler.MountTypeRoutes)
				authed.Route("/requests", params.RequestsHandler.MountRoutes)
			}
			if params.AuditHandler != nil {
				authed.Route("/audit/decisions", params.AuditHandler.MountRoutes)
			}
		})
	})

	return r
}
