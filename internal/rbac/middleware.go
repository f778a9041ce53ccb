package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/unidesk/unidesk/internal/audit"
	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// DepartmentFunc extracts the department a request targets.
type DepartmentFunc func(*http.Request) (shared.Department, error)

// RequirePermission ensures the current actor holds key.
func (m Middleware) RequirePermission(key PermissionKey) func(http.Handler) http.Handler {
	return m.RequireAny(key)
}

// RequireAny ensures the current actor holds at least one of the keys.
func (m Middleware) RequireAny(keys ...PermissionKey) func(http.Handler) http.Handler {
	return m.gate(func(r *http.Request, actor *shared.Actor) ([]audit.Decision, error) {
		d, err := m.Service.AuthorizeAny(r.Context(), actor, keys...)
		return []audit.Decision{d}, err
	})
}

// RequireAll ensures the current actor holds every key.
func (m Middleware) RequireAll(keys ...PermissionKey) func(http.Handler) http.Handler {
	return m.gate(func(r *http.Request, actor *shared.Actor) ([]audit.Decision, error) {
		return m.Service.AuthorizeAll(r.Context(), actor, keys...)
	})
}

// RequireSuperAdmin ensures the current actor is a super admin.
func (m Middleware) RequireSuperAdmin() func(http.Handler) http.Handler {
	return m.gate(func(r *http.Request, actor *shared.Actor) ([]audit.Decision, error) {
		d, err := m.Service.AuthorizeSuperAdmin(r.Context(), actor)
		return []audit.Decision{d}, err
	})
}

// RequireDepartment ensures key is held and the actor may act on the department
// returned by dept.
func (m Middleware) RequireDepartment(key PermissionKey, dept DepartmentFunc) func(http.Handler) http.Handler {
	return m.gate(func(r *http.Request, actor *shared.Actor) ([]audit.Decision, error) {
		if actor == nil {
			return nil, errUnauthenticated()
		}
		department, err := dept(r)
		if err != nil {
			return nil, err
		}
		d, err := m.Service.AuthorizeDepartment(r.Context(), actor, key, department)
		return []audit.Decision{d}, err
	})
}

// RequireOwnerOr ensures key is held or the actor owns the row whose ID is the idParam
// route parameter.
func (m Middleware) RequireOwnerOr(key PermissionKey, target OwnershipTarget, idParam string) func(http.Handler) http.Handler {
	return m.gate(func(r *http.Request, actor *shared.Actor) ([]audit.Decision, error) {
		if actor == nil {
			return nil, errUnauthenticated()
		}
		id, err := httpx.IDParam(r, idParam)
		if err != nil {
			return nil, err
		}
		d, err := m.Service.AuthorizeOwnerOr(r.Context(), actor, key, target, id)
		return []audit.Decision{d}, err
	})
}

// RequireDepartmentOrOwner grants admins holding key within the department returned by
// dept, falling back to ownership of the row whose ID is the idParam route parameter.
func (m Middleware) RequireDepartmentOrOwner(key PermissionKey, dept DepartmentFunc, idParam string, targets ...OwnershipTarget) func(http.Handler) http.Handler {
	return m.gate(func(r *http.Request, actor *shared.Actor) ([]audit.Decision, error) {
		if actor == nil {
			return nil, errUnauthenticated()
		}
		id, err := httpx.IDParam(r, idParam)
		if err != nil {
			return nil, err
		}
		department, err := dept(r)
		if err != nil {
			return nil, err
		}
		d, err := m.Service.AuthorizeDepartmentOrOwner(r.Context(), actor, key, department, id, targets...)
		return []audit.Decision{d}, err
	})
}

func (m Middleware) gate(authorize func(*http.Request, *shared.Actor) ([]audit.Decision, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			decisions, err := authorize(r, actor)
			record(r.Context(), decisions)
			if err != nil {
				if m.Logger != nil && httpx.Status(err) == http.StatusForbidden {
					m.Logger.Debug("rbac denied", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func record(ctx context.Context, decisions []audit.Decision) {
	for _, d := range decisions {
		if d.ID == uuid.Nil {
			continue
		}
		audit.Record(ctx, d)
	}
}
