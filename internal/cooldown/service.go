package cooldown

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/unidesk/unidesk/internal/shared"
)

// Service evaluates and records the per-department cooldown.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the cooldown service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// CheckAvailability reports whether studentID may submit to department now.
func (s *Service) CheckAvailability(ctx context.Context, studentID int64, department shared.Department) (Availability, error) {
	if !department.Valid() {
		return Availability{}, shared.Reject(shared.ErrInvalid, "Unknown department", map[string]any{"department": string(department)})
	}
	last, ok, err := s.store.LastRequest(ctx, studentID, department)
	if err != nil {
		return Availability{}, err
	}
	if !ok {
		return Availability{Department: department, Available: true}, nil
	}
	a := Evaluate(last, s.now())
	a.Department = department
	return a, nil
}

// Record stores a successful submission. Callers run it in the transaction that
// created the request; a cooldown started by a concurrent submission fails it with
// a rate-limited rejection so the transaction rolls back.
func Record(ctx context.Context, store Store, studentID int64, department shared.Department, at time.Time) error {
	if !department.Valid() {
		return fmt.Errorf("cooldown: record: %w", shared.ErrInvalid)
	}
	claimed, err := store.Claim(ctx, studentID, department, at)
	if err != nil {
		return err
	}
	if !claimed {
		return shared.Reject(shared.ErrRateLimited,
			fmt.Sprintf("A request to %s was just submitted, please wait %d hour(s)", department.DisplayName(), windowHours),
			map[string]any{
				"department":     string(department),
				"departmentName": department.DisplayName(),
				"hoursRemaining": windowHours,
			})
	}
	return nil
}

// PurgeExpired deletes rows that no longer restrict anyone.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeBefore(ctx, s.now().Add(-Window))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("cooldown rows purged", slog.Int64("rows", n))
	}
	return n, nil
}
