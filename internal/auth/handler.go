package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/ratelimit"
	"github.com/unidesk/unidesk/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	throttle       *ratelimit.Throttle
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, throttle *ratelimit.Throttle) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		throttle:       throttle,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.throttle.Middleware("auth.login"))
		r.Post("/admin/login", h.login(shared.ActorAdmin))
		r.Post("/student/login", h.login(shared.ActorStudent))
	})
	r.Post("/logout", h.logout)
}

func (h *Handler) login(kind shared.ActorKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in loginRequest
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.validator.Struct(in); err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
			return
		}

		acc, err := h.service.Authenticate(r.Context(), kind, in.Username, in.Password)
		if err != nil {
			if httpx.Status(err) == http.StatusInternalServerError {
				h.logger.Error("authenticate", slog.String("kind", string(kind)), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}

		sess := shared.SessionFromContext(r.Context())
		if sess == nil {
			h.logger.Error("session missing during login")
			httpx.RespondError(w, shared.ErrInternal)
			return
		}
		if err := h.sessionManager.Renew(r.Context(), sess); err != nil {
			h.logger.Error("renew session", slog.Any("error", err))
			httpx.RespondError(w, shared.ErrInternal)
			return
		}
		sess.SetSubject(acc.Kind, acc.ID)
		if err := h.sessionManager.Commit(r.Context(), w, sess); err != nil {
			h.logger.Error("commit session", slog.Any("error", err))
			httpx.RespondError(w, shared.ErrInternal)
			return
		}
		h.logger.Info("login", slog.String("kind", string(kind)), slog.Int64("id", acc.ID))
		httpx.OK(w, http.StatusOK, map[string]any{
			"user":      acc.Actor(),
			"full_name": acc.FullName,
		})
	}
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		h.sessionManager.Destroy(sess)
		if err := h.sessionManager.Commit(r.Context(), w, sess); err != nil {
			h.logger.Warn("destroy session", slog.Any("error", err))
		}
	}
	httpx.OK(w, http.StatusOK, map[string]any{"logged_out": true})
}
