package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/shared"
)

const maxBatchChecks = 50

// AccessHandler lets a client ask what the current actor may do.
type AccessHandler struct {
	logger  *slog.Logger
	service *Service
}

// NewAccessHandler builds AccessHandler instance.
func NewAccessHandler(logger *slog.Logger, service *Service) *AccessHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessHandler{logger: logger, service: service}
}

// MountRoutes registers /me and /check.
func (h *AccessHandler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Post("/check", h.check)
}

type meResponse struct {
	Actor *shared.Actor `json:"actor"`
	EffectiveSet
}

func (h *AccessHandler) me(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, errUnauthenticated())
		return
	}
	if !actor.IsAdmin() {
		httpx.OK(w, http.StatusOK, meResponse{Actor: actor, EffectiveSet: EffectiveSet{UserID: actor.ID, Permissions: []string{}, Roles: []string{}}})
		return
	}
	set, err := h.service.EffectivePermissions(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("effective permissions", slog.Int64("user_id", actor.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, meResponse{Actor: actor, EffectiveSet: set})
}

type checkRequest struct {
	Permissions []string `json:"permissions"`
}

func (h *AccessHandler) check(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, errUnauthenticated())
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if len(req.Permissions) == 0 || len(req.Permissions) > maxBatchChecks {
		httpx.RespondError(w, shared.Reject(shared.ErrInvalid, "Between 1 and 50 permissions must be checked", nil))
		return
	}

	result := make(map[string]bool, len(req.Permissions))
	keys := make([]PermissionKey, 0, len(req.Permissions))
	for _, raw := range req.Permissions {
		key, err := ParsePermissionKey(raw)
		if err != nil {
			result[raw] = false
			continue
		}
		keys = append(keys, key)
	}
	if actor.IsAdmin() {
		for k, v := range h.service.CheckMultiplePermissions(r.Context(), actor.ID, keys) {
			result[k] = v
		}
	} else {
		for _, key := range keys {
			result[key.String()] = false
		}
	}
	httpx.OK(w, http.StatusOK, result)
}
