package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/unidesk/unidesk/internal/audit"
	jobmetrics "github.com/unidesk/unidesk/internal/jobs"
)

// AssignmentSweeper deactivates expired role assignments.
type AssignmentSweeper interface {
	SweepExpiredAssignments(ctx context.Context) (int64, error)
}

// CooldownPurger removes cooldown rows that can no longer block a submission.
type CooldownPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// DecisionPersister stores authorization decisions.
type DecisionPersister interface {
	Persist(ctx context.Context, decisions ...audit.Decision) error
}

// Housekeeping bundles the worker's task handlers.
type Housekeeping struct {
	Sweeper   AssignmentSweeper
	Purger    CooldownPurger
	Decisions DecisionPersister
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// HandleSweepExpiredAssignments processes TaskSweepExpiredAssignments.
func (h *Housekeeping) HandleSweepExpiredAssignments(ctx context.Context, _ *asynq.Task) (err error) {
	if h == nil || h.Sweeper == nil {
		return errors.New("sweep expired assignments: handler not configured")
	}
	tracker := h.Metrics.Track(TaskSweepExpiredAssignments)
	defer func() { err = tracker.End(err) }()

	n, err := h.Sweeper.SweepExpiredAssignments(ctx)
	if err != nil {
		h.logger().Error("sweep expired assignments", slog.Any("error", err))
		return err
	}
	tracker.Affected(n)
	if n > 0 {
		h.logger().Info("expired role assignments deactivated", slog.String("job", TaskSweepExpiredAssignments), slog.Int64("count", n))
	}
	return nil
}

// HandlePurgeCooldowns processes TaskPurgeCooldowns.
func (h *Housekeeping) HandlePurgeCooldowns(ctx context.Context, _ *asynq.Task) (err error) {
	if h == nil || h.Purger == nil {
		return errors.New("purge cooldowns: handler not configured")
	}
	tracker := h.Metrics.Track(TaskPurgeCooldowns)
	defer func() { err = tracker.End(err) }()

	n, err := h.Purger.PurgeExpired(ctx)
	if err != nil {
		h.logger().Error("purge cooldowns", slog.Any("error", err))
		return err
	}
	tracker.Affected(n)
	h.logger().Debug("cooldown rows purged", slog.String("job", TaskPurgeCooldowns), slog.Int64("count", n))
	return nil
}

// HandleRecordDecision processes TaskRecordDecision. Malformed payloads are
// dropped without retry.
func (h *Housekeeping) HandleRecordDecision(ctx context.Context, t *asynq.Task) (err error) {
	if h == nil || h.Decisions == nil {
		return errors.New("record decision: handler not configured")
	}
	d, err := audit.ParseRecordTask(t)
	if err != nil {
		h.logger().Warn("drop malformed decision", slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := h.Metrics.Track(TaskRecordDecision)
	defer func() { err = tracker.End(err) }()

	if err := h.Decisions.Persist(ctx, d); err != nil {
		return err
	}
	tracker.Affected(1)
	return nil
}

func (h *Housekeeping) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
