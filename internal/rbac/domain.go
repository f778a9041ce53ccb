package rbac

import (
	"time"

	"github.com/unidesk/unidesk/internal/shared"
)

// Role represents a named bundle of permissions.
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	Description  string    `json:"description"`
	IsSystemRole bool      `json:"is_system_role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleDetail is a role with its bound permissions.
type RoleDetail struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID                 int64     `json:"id"`
	Resource           string    `json:"resource"`
	Action             string    `json:"action"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	IsSystemPermission bool      `json:"is_system_permission"`
	CreatedAt          time.Time `json:"created_at"`
}

// Key returns the permission's natural key.
func (p Permission) Key() PermissionKey {
	return PermissionKey{Resource: p.Resource, Action: p.Action}
}

// Assignment links an admin user to a role.
type Assignment struct {
	UserID     int64      `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	RoleName   string     `json:"role_name,omitempty"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	AssignedBy int64      `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
}

// IsEffective reports whether the assignment contributes grants at instant now.
func (a Assignment) IsEffective(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// Grant is one permission reached through one effective role assignment.
type Grant struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	RoleName string `json:"role_name"`
}

// Key returns the granted permission key.
func (g Grant) Key() PermissionKey {
	return PermissionKey{Resource: g.Resource, Action: g.Action}
}

// AdminUser is an administrative account subject to RBAC.
type AdminUser struct {
	ID           int64             `json:"id"`
	Username     string            `json:"username"`
	Department   shared.Department `json:"department"`
	IsSuperAdmin bool              `json:"is_super_admin"`
	IsActive     bool              `json:"is_active"`
}

// RoleUsage counts what still references a role.
type RoleUsage struct {
	ActiveAssignments int
	Assignments       int
	Bindings          int
}

// EffectiveSet is the resolved permission set of a user.
type EffectiveSet struct {
	UserID      int64    `json:"user_id"`
	Universal   bool     `json:"universal"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
}

// Has reports whether key is covered by the set.
func (s EffectiveSet) Has(key PermissionKey) bool {
	if s.Universal {
		return true
	}
	want := key.String()
	for _, p := range s.Permissions {
		if p == want {
			return true
		}
	}
	return false
}

// RoleInput carries role create/update fields.
type RoleInput struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=512"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

// PermissionInput carries permission create/update fields.
type PermissionInput struct {
	Resource    string `json:"resource" validate:"required,max=64"`
	Action      string `json:"action" validate:"required,max=64"`
	Name        string `json:"name" validate:"max=128"`
	Description string `json:"description" validate:"max=512"`
}

// DeleteOutcome reports how a role deletion was carried out.
type DeleteOutcome string

const (
	RoleDeleted     DeleteOutcome = "deleted"
	RoleDeactivated DeleteOutcome = "deactivated"
)
