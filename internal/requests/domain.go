// Package requests holds student requests and the request-type catalog.
package requests

import (
	"time"

	"github.com/unidesk/unidesk/internal/shared"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusResolved || next == StatusRejected
	case StatusInProgress:
		return next == StatusResolved || next == StatusRejected
	default:
		return false
	}
}

// RequestType is a kind of request routed to one department.
type RequestType struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Department  shared.Department `json:"department"`
	IsActive    bool              `json:"is_active"`
}

// Request is one student submission.
type Request struct {
	ID            int64             `json:"id"`
	StudentID     int64             `json:"student_id"`
	RequestTypeID int64             `json:"request_type_id"`
	Department    shared.Department `json:"department"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Status        Status            `json:"status"`
	Response      *string           `json:"response,omitempty"`
	RespondedBy   *int64            `json:"responded_by,omitempty"`
	RespondedAt   *time.Time        `json:"responded_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// CreateInput is the creation payload. StudentID is only read from admins.
type CreateInput struct {
	RequestTypeID int64  `json:"request_type_id" validate:"required,gt=0"`
	StudentID     int64  `json:"student_id" validate:"omitempty,gt=0"`
	Title         string `json:"title" validate:"required,max=200"`
	Description   string `json:"description" validate:"required,max=5000"`
}

// StatusInput changes the status of a request.
type StatusInput struct {
	Status   Status `json:"status" validate:"required,oneof=in_progress resolved rejected"`
	Response string `json:"response" validate:"max=5000"`
}

// ListFilters narrows a department queue.
type ListFilters struct {
	Status Status
	Limit  int
}
