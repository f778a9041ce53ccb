package roles

import (
	"context"
	"time"

	"github.com/unidesk/unidesk/internal/rbac"
	"github.com/unidesk/unidesk/internal/shared"
)

// Manager is the role lifecycle surface the handlers depend on. *rbac.Service satisfies it.
type Manager interface {
	ListRoles(ctx context.Context, includeInactive bool) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.RoleDetail, error)
	CreateRole(ctx context.Context, actor *shared.Actor, in rbac.RoleInput) (rbac.Role, error)
	UpdateRole(ctx context.Context, actor *shared.Actor, id int64, in rbac.RoleInput) (rbac.Role, error)
	DeleteRole(ctx context.Context, actor *shared.Actor, id int64) (rbac.DeleteOutcome, error)
	UpdateRolePermissions(ctx context.Context, actor *shared.Actor, roleID int64, permissionIDs []int64) (rbac.RoleDetail, error)
	ListUserAssignments(ctx context.Context, userID int64) ([]rbac.Assignment, error)
	AssignRole(ctx context.Context, actor *shared.Actor, userID, roleID int64, expiresAt *time.Time) (rbac.Assignment, error)
	RemoveRole(ctx context.Context, actor *shared.Actor, userID, roleID int64) error
}

// Service handles role business logic.
type Service struct {
	manager Manager
}

// NewService builds Service instance.
func NewService(manager Manager) *Service {
	return &Service{manager: manager}
}

// ListRoles returns roles, hiding deactivated ones unless asked.
func (s *Service) ListRoles(ctx context.Context, includeInactive bool) ([]rbac.Role, error) {
	roles, err := s.manager.ListRoles(ctx, includeInactive)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	return roles, nil
}

// GetRole returns a role with its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (rbac.RoleDetail, error) {
	return s.manager.GetRole(ctx, id)
}

// CreateRole creates a custom role.
func (s *Service) CreateRole(ctx context.Context, actor *shared.Actor, in rbac.RoleInput) (rbac.Role, error) {
	return s.manager.CreateRole(ctx, actor, in)
}

// UpdateRole edits a role.
func (s *Service) UpdateRole(ctx context.Context, actor *shared.Actor, id int64, in rbac.RoleInput) (rbac.Role, error) {
	return s.manager.UpdateRole(ctx, actor, id, in)
}

// DeleteRole removes or deactivates a role.
func (s *Service) DeleteRole(ctx context.Context, actor *shared.Actor, id int64) (rbac.DeleteOutcome, error) {
	return s.manager.DeleteRole(ctx, actor, id)
}

// ReplacePermissions replaces the permission set of a role.
func (s *Service) ReplacePermissions(ctx context.Context, actor *shared.Actor, roleID int64, in PermissionsInput) (rbac.RoleDetail, error) {
	return s.manager.UpdateRolePermissions(ctx, actor, roleID, in.PermissionIDs)
}

// Assignments lists a user's role assignments.
func (s *Service) Assignments(ctx context.Context, userID int64) ([]rbac.Assignment, error) {
	assignments, err := s.manager.ListUserAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	if assignments == nil {
		assignments = []rbac.Assignment{}
	}
	return assignments, nil
}

// Assign grants a role to a user.
func (s *Service) Assign(ctx context.Context, actor *shared.Actor, userID int64, in AssignInput) (rbac.Assignment, error) {
	return s.manager.AssignRole(ctx, actor, userID, in.RoleID, in.ExpiresAt)
}

// Unassign revokes a role from a user.
func (s *Service) Unassign(ctx context.Context, actor *shared.Actor, userID, roleID int64) error {
	return s.manager.RemoveRole(ctx, actor, userID, roleID)
}
