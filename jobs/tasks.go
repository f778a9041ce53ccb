package jobs

import (
	"github.com/hibiken/asynq"

	"github.com/unidesk/unidesk/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries authorization decisions awaiting persistence.
	QueueAudit = "audit"

	// TaskRecordDecision persists one authorization decision.
	TaskRecordDecision = audit.TaskRecordDecision
	// TaskSweepExpiredAssignments deactivates role assignments past their expiry.
	TaskSweepExpiredAssignments = "rbac:sweep_expired"
	// TaskPurgeCooldowns deletes cooldown rows older than the cooldown window.
	TaskPurgeCooldowns = "cooldown:purge"
)

// NewSweepExpiredAssignmentsTask constructs the periodic assignment sweep task.
func NewSweepExpiredAssignmentsTask() *asynq.Task {
	return asynq.NewTask(TaskSweepExpiredAssignments, nil)
}

// NewPurgeCooldownsTask constructs the periodic cooldown purge task.
func NewPurgeCooldownsTask() *asynq.Task {
	return asynq.NewTask(TaskPurgeCooldowns, nil)
}
