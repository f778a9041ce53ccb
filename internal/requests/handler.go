package requests

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/unidesk/unidesk/internal/cooldown"
	"github.com/unidesk/unidesk/internal/platform/httpx"
	"github.com/unidesk/unidesk/internal/rbac"
	"github.com/unidesk/unidesk/internal/shared"
	"github.com/unidesk/unidesk/internal/workhours"
)

// Handler serves request types and requests.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	cooldowns *cooldown.Service
	rbac      rbac.Middleware
	hours     workhours.Gate
	admission cooldown.Gate
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, cooldowns *cooldown.Service, rbacMW rbac.Middleware, hours workhours.Gate, admission cooldown.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		cooldowns: cooldowns,
		rbac:      rbacMW,
		hours:     hours,
		admission: admission,
		validator: validator.New(),
	}
}

// MountTypeRoutes registers the request-type catalog.
func (h *Handler) MountTypeRoutes(r chi.Router) {
	r.Use(requireActor)
	r.Get("/", h.listTypes)
}

// MountRoutes registers request routes. Creation passes the working-hours gate,
// the staff authorization check and the cooldown gate in that order.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(requireActor)
	r.With(h.hours.Middleware, h.authorizeCreate, h.admission.Middleware).Post("/", h.create)
	r.With(requireStudent).Get("/mine", h.listMine)
	r.With(requireStudent).Get("/availability/{department}", h.availability)
	r.With(h.rbac.RequireDepartment(rbac.PermRequestsView, departmentParam)).Get("/department/{department}", h.listDepartment)
	r.With(h.rbac.RequireDepartmentOrOwner(rbac.PermRequestsView, h.departmentOfRequest, "id",
		rbac.OwnRequestByStudent, rbac.OwnRequestByResponder)).Get("/{id}", h.get)
	r.With(h.rbac.RequireDepartment(rbac.PermRequestsRespond, h.departmentOfRequest)).Patch("/{id}/status", h.updateStatus)
}

// authorizeCreate scopes staff submissions to the department handling the request type.
func (h *Handler) authorizeCreate(next http.Handler) http.Handler {
	staff := h.rbac.RequireDepartment(rbac.PermRequestsCreate, h.departmentOfBody)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.ActorFromContext(r.Context()).IsAdmin() {
			staff.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) listTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.ListRequestTypes(r.Context())
	if err != nil {
		h.fail(w, "list request types", err)
		return
	}
	if types == nil {
		types = []RequestType{}
	}
	httpx.OK(w, http.StatusOK, types)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	admission, ok := cooldown.AdmissionFromContext(r.Context())
	if !ok {
		h.fail(w, "create request", fmt.Errorf("requests: missing admission: %w", shared.ErrInternal))
		return
	}
	var in CreateInput
	if err := h.decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), admission, in)
	if err != nil {
		h.fail(w, "create request", err)
		return
	}
	httpx.OK(w, http.StatusCreated, created)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	reqs, err := h.service.ListMine(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, "list own requests", err)
		return
	}
	httpx.OK(w, http.StatusOK, reqs)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	department, err := departmentParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := shared.ActorFromContext(r.Context())
	availability, err := h.cooldowns.CheckAvailability(r.Context(), actor.ID, department)
	if err != nil {
		h.fail(w, "check availability", err)
		return
	}
	httpx.OK(w, http.StatusOK, availability)
}

func (h *Handler) listDepartment(w http.ResponseWriter, r *http.Request) {
	department, err := departmentParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filters := ListFilters{Status: Status(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid limit", httpx.ErrValidation))
			return
		}
		filters.Limit = limit
	}
	reqs, err := h.service.ListDepartment(r.Context(), department, filters)
	if err != nil {
		h.fail(w, "list department requests", err)
		return
	}
	httpx.OK(w, http.StatusOK, reqs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get request", err)
		return
	}
	httpx.OK(w, http.StatusOK, req)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in StatusInput
	if err := h.decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.UpdateStatus(r.Context(), shared.ActorFromContext(r.Context()), id, in)
	if err != nil {
		h.fail(w, "update request status", err)
		return
	}
	httpx.OK(w, http.StatusOK, updated)
}

func (h *Handler) departmentOfRequest(r *http.Request) (shared.Department, error) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		return "", err
	}
	return h.service.DepartmentOf(r.Context(), id)
}

func (h *Handler) departmentOfBody(r *http.Request) (shared.Department, error) {
	typeID, err := cooldown.PeekRequestTypeID(r)
	if err != nil {
		return "", err
	}
	return h.service.ResolveDepartment(r.Context(), typeID)
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

func departmentParam(r *http.Request) (shared.Department, error) {
	return shared.ParseDepartment(chi.URLParam(r, "department"))
}

func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.ActorFromContext(r.Context()) == nil {
			httpx.RespondError(w, shared.Reject(shared.ErrUnauthenticated, "Authentication required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireStudent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shared.ActorFromContext(r.Context()).IsStudent() {
			httpx.RespondError(w, shared.Reject(shared.ErrForbidden, "Only students can use this endpoint", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
