// Package audit records authorization decisions that gated HTTP requests.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Path names how an authorization decision was reached.
type Path string

const (
	PathSuperAdmin Path = "super_admin"
	PathPermission Path = "permission"
	PathOwnership  Path = "ownership"
	PathDepartment Path = "department"
	PathDenied     Path = "denied"
)

// Decision is a single authorization outcome.
type Decision struct {
	ID       uuid.UUID `json:"id"`
	Resource string    `json:"resource"`
	Action   string    `json:"action"`
	ActorID  int64     `json:"actor_id"`
	Granted  bool      `json:"granted"`
	Path     Path      `json:"path"`
	At       time.Time `json:"at"`
	Method   string    `json:"method,omitempty"`
	Route    string    `json:"route,omitempty"`
}

// NewDecision stamps a decision with a fresh ID.
func NewDecision(resource, action string, actorID int64, granted bool, path Path, at time.Time) Decision {
	return Decision{
		ID:       uuid.New(),
		Resource: resource,
		Action:   action,
		ActorID:  actorID,
		Granted:  granted,
		Path:     path,
		At:       at.UTC(),
	}
}

// Permission returns the "resource.action" form.
func (d Decision) Permission() string {
	return d.Resource + "." + d.Action
}
