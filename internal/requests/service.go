package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/unidesk/unidesk/internal/cooldown"
	"github.com/unidesk/unidesk/internal/shared"
)

const (
	defaultQueueLimit = 100
	maxQueueLimit     = 500
)

// Service implements request creation and triage.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the requests service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// ResolveDepartment implements cooldown.RequestTypeResolver.
func (s *Service) ResolveDepartment(ctx context.Context, typeID int64) (shared.Department, error) {
	if typeID <= 0 {
		return "", shared.Reject(shared.ErrInvalid, "request_type_id is required", nil)
	}
	return s.store.ResolveDepartment(ctx, typeID)
}

// ListRequestTypes returns the active catalog.
func (s *Service) ListRequestTypes(ctx context.Context) ([]RequestType, error) {
	return s.store.ListRequestTypes(ctx)
}

// Create inserts an admitted request and records the cooldown in the same
// transaction, so a failed insert never starts a cooldown.
func (s *Service) Create(ctx context.Context, admission cooldown.Admission, in CreateInput) (Request, error) {
	if admission.StudentID <= 0 || !admission.Department.Valid() {
		return Request{}, fmt.Errorf("requests: create: %w", shared.ErrInternal)
	}
	if admission.RequestTypeID != in.RequestTypeID {
		return Request{}, shared.Reject(shared.ErrInvalid, "request_type_id changed during admission", nil)
	}
	now := s.now().UTC()
	draft := Request{
		StudentID:     admission.StudentID,
		RequestTypeID: admission.RequestTypeID,
		Department:    admission.Department,
		Title:         strings.TrimSpace(in.Title),
		Description:   strings.TrimSpace(in.Description),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if draft.Title == "" || draft.Description == "" {
		return Request{}, shared.Reject(shared.ErrInvalid, "title and description are required", nil)
	}

	var created Request
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		created, err = tx.Insert(ctx, draft)
		if err != nil {
			return err
		}
		return tx.RecordCooldown(ctx, created.StudentID, created.Department, now)
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Request{}, shared.Reject(shared.ErrNotFound, "Student not found", map[string]any{"student_id": admission.StudentID})
		}
		return Request{}, err
	}
	s.logger.Info("request created",
		slog.Int64("request_id", created.ID),
		slog.Int64("student_id", created.StudentID),
		slog.String("department", string(created.Department)))
	return created, nil
}

// Get loads one request.
func (s *Service) Get(ctx context.Context, id int64) (Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Request{}, shared.Reject(shared.ErrNotFound, "Request not found", nil)
		}
		return Request{}, err
	}
	return req, nil
}

// DepartmentOf returns the department a request belongs to.
func (s *Service) DepartmentOf(ctx context.Context, id int64) (shared.Department, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return req.Department, nil
}

// ListMine returns a student's requests.
func (s *Service) ListMine(ctx context.Context, studentID int64) ([]Request, error) {
	reqs, err := s.store.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []Request{}
	}
	return reqs, nil
}

// ListDepartment returns a department queue.
func (s *Service) ListDepartment(ctx context.Context, department shared.Department, filters ListFilters) ([]Request, error) {
	if filters.Status != "" {
		switch filters.Status {
		case StatusPending, StatusInProgress, StatusResolved, StatusRejected:
		default:
			return nil, shared.Reject(shared.ErrInvalid, "Unknown status", map[string]any{"status": string(filters.Status)})
		}
	}
	if filters.Limit <= 0 {
		filters.Limit = defaultQueueLimit
	}
	if filters.Limit > maxQueueLimit {
		filters.Limit = maxQueueLimit
	}
	reqs, err := s.store.ListByDepartment(ctx, department, filters)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []Request{}
	}
	return reqs, nil
}

// UpdateStatus moves a request along its lifecycle on behalf of an admin.
func (s *Service) UpdateStatus(ctx context.Context, actor *shared.Actor, id int64, in StatusInput) (Request, error) {
	if !actor.IsAdmin() {
		return Request{}, shared.Reject(shared.ErrForbidden, "Only staff can respond to requests", nil)
	}
	var response *string
	if trimmed := strings.TrimSpace(in.Response); trimmed != "" {
		response = &trimmed
	}
	var updated Request
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.Reject(shared.ErrNotFound, "Request not found", nil)
			}
			return err
		}
		if !current.Status.CanTransition(in.Status) {
			return shared.Reject(shared.ErrConflict, "Status transition not allowed", map[string]any{
				"from": string(current.Status),
				"to":   string(in.Status),
			})
		}
		if in.Status.Terminal() && response == nil && current.Response == nil {
			return shared.Reject(shared.ErrInvalid, "A response is required to close a request", nil)
		}
		updated, err = tx.UpdateStatus(ctx, id, in.Status, response, actor.ID, s.now().UTC())
		return err
	})
	if err != nil {
		return Request{}, err
	}
	s.logger.Info("request status updated",
		slog.Int64("request_id", id),
		slog.String("status", string(updated.Status)),
		slog.Int64("admin_id", actor.ID))
	return updated, nil
}
