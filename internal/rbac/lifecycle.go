package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/unidesk/unidesk/internal/shared"
)

// requireInTx runs the permission pre-check against the transaction so the check and the
// mutation observe the same snapshot.
func (s *Service) requireInTx(ctx context.Context, tx TxStore, actor *shared.Actor, key PermissionKey) error {
	if actor == nil {
		return errUnauthenticated()
	}
	if !actor.IsAdmin() {
		return errForbidden(key)
	}
	ok, _, err := s.check(ctx, tx, actor.ID, key, false)
	if err != nil {
		s.logger.Error("rbac pre-check failed", slog.Int64("user_id", actor.ID), slog.String("permission", key.String()), slog.Any("error", err))
		return errForbidden(key)
	}
	if !ok {
		return errForbidden(key)
	}
	return nil
}

func (s *Service) requireSuperInTx(ctx context.Context, tx TxStore, actor *shared.Actor) error {
	if actor == nil {
		return errUnauthenticated()
	}
	if !actor.IsAdmin() {
		return errForbidden(SuperAdminKey)
	}
	super, err := tx.IsSuperAdmin(ctx, actor.ID)
	if err != nil {
		s.logger.Error("rbac super admin pre-check failed", slog.Int64("user_id", actor.ID), slog.Any("error", err))
		return errForbidden(SuperAdminKey)
	}
	if !super {
		return shared.Reject(shared.ErrForbidden, "Super admin access required", map[string]any{"requiredPermission": SuperAdminKey.String()})
	}
	return nil
}

func notFound(what string) error {
	return shared.Reject(shared.ErrNotFound, what+" not found", nil)
}

func conflict(message string) error {
	return shared.Reject(shared.ErrConflict, message, nil)
}

func invalid(message string) error {
	return shared.Reject(shared.ErrInvalid, message, nil)
}

func mapLoad(err error, what string) error {
	if errors.Is(err, shared.ErrNotFound) {
		return notFound(what)
	}
	return err
}

// ListRoles returns roles ordered by name.
func (s *Service) ListRoles(ctx context.Context, includeInactive bool) ([]Role, error) {
	roles, err := s.store.ListRoles(ctx, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}

// GetRole returns a role with its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return RoleDetail{}, mapLoad(err, "Role")
	}
	perms, err := s.store.ListRolePermissions(ctx, id)
	if err != nil {
		return RoleDetail{}, fmt.Errorf("rbac: role permissions: %w", err)
	}
	if perms == nil {
		perms = []Permission{}
	}
	return RoleDetail{Role: role, Permissions: perms}, nil
}

// GetAllPermissions returns the catalog grouped by resource.
func (s *Service) GetAllPermissions(ctx context.Context) (map[string][]Permission, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	grouped := make(map[string][]Permission)
	for _, p := range perms {
		grouped[p.Resource] = append(grouped[p.Resource], p)
	}
	for resource := range grouped {
		sort.Slice(grouped[resource], func(i, j int) bool {
			return grouped[resource][i].Action < grouped[resource][j].Action
		})
	}
	return grouped, nil
}

// ListUserAssignments returns a user's assignments.
func (s *Service) ListUserAssignments(ctx context.Context, userID int64) ([]Assignment, error) {
	if _, err := s.store.GetAdminUser(ctx, userID); err != nil {
		return nil, mapLoad(err, "User")
	}
	out, err := s.store.ListUserAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list assignments: %w", err)
	}
	if out == nil {
		out = []Assignment{}
	}
	return out, nil
}

func normalizeRoleInput(in RoleInput) (RoleInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return in, invalid("Role name is required")
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Name
	}
	return in, nil
}

// CreateRole creates a non-system role.
func (s *Service) CreateRole(ctx context.Context, actor *shared.Actor, in RoleInput) (Role, error) {
	in, err := normalizeRoleInput(in)
	if err != nil {
		return Role{}, err
	}
	var created Role
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := s.requireInTx(ctx, tx, actor, PermUsersManageRoles); err != nil {
			return err
		}
		if _, err := tx.GetRoleByName(ctx, in.Name); err == nil {
			return conflict("Role name already exists")
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		active := true
		if in.IsActive != nil {
			active = *in.IsActive
		}
		created, err = tx.InsertRole(ctx, Role{
			Name:        in.Name,
			DisplayName: in.DisplayName,
			Description: in.Description,
			IsActive:    active,
		})
		return err
	})
	return created, err
}

// UpdateRole updates a role. System roles keep their name and stay active.
func (s *Service) UpdateRole(ctx context.Context, actor *shared.Actor, id int64, in RoleInput) (Role, error) {
	in, err := normalizeRoleInput(in)
	if err != nil {
		return Role{}, err
	}
	var updated Role
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := s.requireInTx(ctx, tx, actor, PermUsersManageRoles); err != nil {
			return err
		}
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return mapLoad(err, "Role")
		}
		active := role.IsActive
		if in.IsActive != nil {
			active = *in.IsActive
		}
		if role.IsSystemRole && (in.Name != role.Name || !active) {
			return conflict("System roles cannot be renamed or deactivated")
		}
		if in.Name != role.Name {
			if _, err := tx.GetRoleByName(ctx, in.Name); err == nil {
				return conflict("Role name already exists")
			} else if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		}
		role.Name = in.Name
		role.DisplayName = in.DisplayName
		role.Description = in.Description
		role.IsActive = active
		updated, err = tx.UpdateRole(ctx, role)
		return err
	})
	return updated, err
}

// DeleteRole removes a role. System roles and roles with an effective assignment are
// refused. Roles still referenced by bindings or past assignments are deactivated,
// others are deleted outright.
func (s *Service) DeleteRole(ctx context.Context, actor *shared.Actor, id int64) (DeleteOutcome, error) {
	if actor == nil {
		return "", errUnauthenticated()
	}
	var outcome DeleteOutcome
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return mapLoad(err, "Role")
		}
		if role.IsSystemRole {
			return conflict("System roles cannot be deleted")
		}
		if err := s.requireInTx(ctx, tx, actor, PermUsersManageRoles); err != nil {
			return err
		}
		usage, err := tx.CountRoleUsage(ctx, id, s.now())
		if err != nil {
			return err
		}
		if usage.ActiveAssignments > 0 {
			return shared.Reject(shared.ErrConflict, "Role is assigned to users", map[string]any{"activeAssignments": usage.ActiveAssignments})
		}
		if usage.Bindings > 0 || usage.Assignments > 0 {
			outcome = RoleDeactivated
			return tx.DeactivateRole(ctx, id)
		}
		outcome = RoleDeleted
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// UpdateRolePermissions replaces the role's whole permission set.
func (s *Service) UpdateRolePermissions(ctx context.Context, actor *shared.Actor, roleID int64, permissionIDs []int64) (RoleDetail, error) {
	ids := dedupeIDs(permissionIDs)
	var detail RoleDetail
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := s.requireInTx(ctx, tx, actor, PermUsersManageRoles); err != nil {
			return err
		}
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return mapLoad(err, "Role")
		}
		if role.IsSystemRole {
			return conflict("System role permissions cannot be changed")
		}
		for _, pid := range ids {
			if _, err := tx.GetPermission(ctx, pid); err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					return shared.Reject(shared.ErrNotFound, "Permission not found", map[string]any{"permissionId": pid})
				}
				return err
			}
		}
		if err := tx.ReplaceRolePermissions(ctx, roleID, ids, actor.ID); err != nil {
			return err
		}
		perms, err := tx.ListRolePermissions(ctx, roleID)
		if err != nil {
			return err
		}
		if perms == nil {
			perms = []Permission{}
		}
		detail = RoleDetail{Role: role, Permissions: perms}
		return nil
	})
	return detail, err
}

// AssignRole assigns a role to an admin user. An effective assignment is a conflict; an
// inactive or expired one is reactivated in place.
func (s *Service) AssignRole(ctx context.Context, actor *shared.Actor, userID, roleID int64, expiresAt *time.Time) (Assignment, error) {
	var assigned Assignment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := s.requireInTx(ctx, tx, actor, PermUsersManageRoles); err != nil {
			return err
		}
		if _, err := tx.GetAdminUser(ctx, userID); err != nil {
			return mapLoad(err, "User")
		}
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return mapLoad(err, "Role")
		}
		if !role.IsActive {
			return conflict("Role is inactive")
		}
		now := s.now()
		assigned = Assignment{
			UserID:     userID,
			RoleID:     roleID,
			RoleName:   role.Name,
			IsActive:   true,
			ExpiresAt:  expiresAt,
			AssignedBy: actor.ID,
			AssignedAt: now,
		}
		existing, err := tx.GetAssignment(ctx, userID, roleID)
		switch {
		case err == nil:
			if existing.IsEffective(now) {
				return conflict("Role already assigned to user")
			}
			return tx.ReactivateAssignment(ctx, assigned)
		case errors.Is(err, shared.ErrNotFound):
			return tx.InsertAssignment(ctx, assigned)
		default:
			return err
		}
	})
	if err != nil {
		return Assignment{}, err
	}
	return assigned, nil
}

// RemoveRole deactivates a user's active assignment.
func (s *Service) RemoveRole(ctx context.Context, actor *shared.Actor, userID, roleID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := s.requireInTx(ctx, tx, actor, PermUsersManageRoles); err != nil {
			return err
		}
		existing, err := tx.GetAssignment(ctx, userID, roleID)
		if err != nil {
			return mapLoad(err, "Role assignment")
		}
		if !existing.IsActive {
			return notFound("Role assignment")
		}
		return tx.DeactivateAssignment(ctx, userID, roleID)
	})
}

func normalizePermissionInput(in PermissionInput) (PermissionInput, PermissionKey, error) {
	in.Resource = strings.TrimSpace(in.Resource)
	in.Action = strings.TrimSpace(in.Action)
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	key, err := ParsePermissionKey(in.Resource + "." + in.Action)
	if err != nil {
		return in, PermissionKey{}, err
	}
	if in.Name == "" {
		in.Name = key.String()
	}
	return in, key, nil
}

// CreatePermission adds a non-system permission. Super admin only.
func (s *Service) CreatePermission(ctx context.Context, actor *shared.Actor, in PermissionInput) (Permission, error) {
	in, key, err := normalizePermissionInput(in)
	if err != nil {
		return Permission{}, err
	}
	var created Permission
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := s.requireSuperInTx(ctx, tx, actor); err != nil {
			return err
		}
		if _, err := tx.GetPermissionByKey(ctx, key); err == nil {
			return shared.Reject(shared.ErrConflict, "Permission already exists", map[string]any{"permission": key.String()})
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		created, err = tx.InsertPermission(ctx, Permission{
			Resource:    key.Resource,
			Action:      key.Action,
			Name:        in.Name,
			Description: in.Description,
		})
		return err
	})
	return created, err
}

// UpdatePermission edits a permission. The key of a system permission is immutable.
func (s *Service) UpdatePermission(ctx context.Context, actor *shared.Actor, id int64, in PermissionInput) (Permission, error) {
	in, key, err := normalizePermissionInput(in)
	if err != nil {
		return Permission{}, err
	}
	var updated Permission
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := s.requireSuperInTx(ctx, tx, actor); err != nil {
			return err
		}
		perm, err := tx.GetPermission(ctx, id)
		if err != nil {
			return mapLoad(err, "Permission")
		}
		if perm.Key() != key {
			if perm.IsSystemPermission {
				return conflict("System permission keys cannot be changed")
			}
			if _, err := tx.GetPermissionByKey(ctx, key); err == nil {
				return shared.Reject(shared.ErrConflict, "Permission already exists", map[string]any{"permission": key.String()})
			} else if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		}
		perm.Resource = key.Resource
		perm.Action = key.Action
		perm.Name = in.Name
		perm.Description = in.Description
		updated, err = tx.UpdatePermission(ctx, perm)
		return err
	})
	return updated, err
}

// DeletePermission removes a non-system permission and its bindings. Super admin only.
func (s *Service) DeletePermission(ctx context.Context, actor *shared.Actor, id int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := s.requireSuperInTx(ctx, tx, actor); err != nil {
			return err
		}
		perm, err := tx.GetPermission(ctx, id)
		if err != nil {
			return mapLoad(err, "Permission")
		}
		if perm.IsSystemPermission {
			return conflict("System permissions cannot be deleted")
		}
		return tx.DeletePermission(ctx, id)
	})
}

// SweepExpiredAssignments deactivates assignments whose expiry has passed.
func (s *Service) SweepExpiredAssignments(ctx context.Context) (int64, error) {
	return s.store.DeactivateExpiredAssignments(ctx, s.now())
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
