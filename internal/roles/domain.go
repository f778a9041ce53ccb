package roles

import "time"

// PermissionsInput replaces the permission set of a role.
type PermissionsInput struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

// AssignInput assigns a role to an admin user.
type AssignInput struct {
	RoleID    int64      `json:"role_id" validate:"required,gt=0"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
