package roles

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/ratelimit"
	"github.com/unidesk/unidesk/internal/rbac"
	"github.com/unidesk/unidesk/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	throttle  *ratelimit.Throttle
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, throttle *ratelimit.Throttle) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, throttle: throttle, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermUsersManageRoles, rbac.PermRolesView))
		r.Get("/", h.listRoles)
		r.Get("/{id}", h.getRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(rbac.PermUsersManageRoles))
		r.Use(h.throttle.Middleware("roles.write"))
		r.Post("/", h.createRole)
		r.Put("/{id}", h.updateRole)
		r.Delete("/{id}", h.deleteRole)
		r.Put("/{id}/permissions", h.replacePermissions)
	})
}

// MountAssignmentRoutes registers /users/{id}/roles routes.
func (h *Handler) MountAssignmentRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermUsersManageRoles, rbac.PermRolesView))
		r.Get("/", h.listAssignments)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(rbac.PermUsersManageRoles))
		r.Use(h.throttle.Middleware("roles.assign"))
		r.Post("/", h.assign)
		r.Delete("/{roleID}", h.unassign)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context(), r.URL.Query().Get("include_inactive") == "true")
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.OK(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.OK(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.RoleInput
	if err := h.decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), shared.ActorFromContext(r.Context()), in)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.OK(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in rbac.RoleInput
	if err := h.decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), shared.ActorFromContext(r.Context()), id, in)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.OK(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	outcome, err := h.service.DeleteRole(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "delete role", err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"id": id, "outcome": outcome})
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in PermissionsInput
	if err := h.decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.ReplacePermissions(r.Context(), shared.ActorFromContext(r.Context()), id, in)
	if err != nil {
		h.fail(w, "replace role permissions", err)
		return
	}
	httpx.OK(w, http.StatusOK, role)
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	assignments, err := h.service.Assignments(r.Context(), userID)
	if err != nil {
		h.fail(w, "list assignments", err)
		return
	}
	httpx.OK(w, http.StatusOK, assignments)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in AssignInput
	if err := h.decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	assignment, err := h.service.Assign(r.Context(), shared.ActorFromContext(r.Context()), userID, in)
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.OK(w, http.StatusCreated, assignment)
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Unassign(r.Context(), shared.ActorFromContext(r.Context()), userID, roleID); err != nil {
		h.fail(w, "remove role", err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"user_id": userID, "role_id": roleID, "removed": true})
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.Status(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
