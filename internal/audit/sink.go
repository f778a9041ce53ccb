package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TaskRecordDecision is the asynq task type carrying a Decision for persistence.
const TaskRecordDecision = "audit:record"

// Sink receives decisions once the gated request has finished.
type Sink interface {
	Emit(ctx context.Context, d Decision) error
}

// LogSink writes decisions to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(_ context.Context, d Decision) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("authz decision",
		slog.String("decision_id", d.ID.String()),
		slog.String("permission", d.Permission()),
		slog.Int64("actor_id", d.ActorID),
		slog.Bool("granted", d.Granted),
		slog.String("path", string(d.Path)),
		slog.String("method", d.Method),
		slog.String("route", d.Route),
	)
	return nil
}

// Enqueuer is the subset of *asynq.Client used by QueueSink.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink hands decisions to the worker for persistence.
type QueueSink struct {
	Client Enqueuer
	Queue  string
}

// Emit implements Sink.
func (s QueueSink) Emit(ctx context.Context, d Decision) error {
	if s.Client == nil {
		return errors.New("audit: queue sink not configured")
	}
	task, err := NewRecordTask(d)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.MaxRetry(5)}
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	if _, err := s.Client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("audit: enqueue decision: %w", err)
	}
	return nil
}

// MultiSink fans out to every sink, joining their errors.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, d Decision) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRecordTask wraps a decision into an asynq task.
func NewRecordTask(d Decision) (*asynq.Task, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecordDecision, data), nil
}

// ParseRecordTask decodes a decision from a task payload.
func ParseRecordTask(t *asynq.Task) (Decision, error) {
	var d Decision
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		return Decision{}, err
	}
	return d, nil
}
