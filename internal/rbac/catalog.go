package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/unidesk/unidesk/internal/shared"
)

type catalogPermission struct {
	Key         PermissionKey
	Name        string
	Description string
}

type catalogRole struct {
	Name        string
	DisplayName string
	Description string
	Permissions []PermissionKey
}

var systemPermissions = []catalogPermission{
	{PermUsersManageRoles, "Manage roles", "Create, update and delete roles and assign them to users"},
	{PermUsersView, "View users", "List administrative users"},
	{PermRolesView, "View roles", "List roles and role assignments"},
	{PermPermissionsView, "View permissions", "List the permission catalog"},
	{PermRequestsView, "View requests", "Read student requests of the home department"},
	{PermRequestsCreate, "Create requests", "Open requests on behalf of a student"},
	{PermRequestsRespond, "Respond to requests", "Change status of and respond to requests"},
	{PermAuditView, "View audit log", "Read the authorization decision log"},
}

var systemRoles = []catalogRole{
	{
		Name:        "department_admin",
		DisplayName: "Department Admin",
		Description: "Triage and respond to requests of the home department",
		Permissions: []PermissionKey{PermRequestsView, PermRequestsCreate, PermRequestsRespond, PermUsersView},
	},
	{
		Name:        "role_manager",
		DisplayName: "Role Manager",
		Description: "Administer roles and role assignments",
		Permissions: []PermissionKey{PermUsersManageRoles, PermRolesView, PermPermissionsView, PermUsersView},
	},
}

// SystemPermissionKeys lists the permissions seeded by EnsureCatalog.
func SystemPermissionKeys() []PermissionKey {
	keys := make([]PermissionKey, 0, len(systemPermissions))
	for _, p := range systemPermissions {
		keys = append(keys, p.Key)
	}
	return keys
}

// EnsureCatalog seeds system permissions and system roles. Existing rows are left as is,
// missing bindings of system roles are added.
func (s *Service) EnsureCatalog(ctx context.Context) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		ids := make(map[PermissionKey]int64, len(systemPermissions))
		for _, def := range systemPermissions {
			perm, err := tx.GetPermissionByKey(ctx, def.Key)
			switch {
			case err == nil:
			case errors.Is(err, shared.ErrNotFound):
				perm, err = tx.InsertPermission(ctx, Permission{
					Resource:           def.Key.Resource,
					Action:             def.Key.Action,
					Name:               def.Name,
					Description:        def.Description,
					IsSystemPermission: true,
				})
				if err != nil {
					return fmt.Errorf("rbac: seed permission %s: %w", def.Key, err)
				}
				s.logger.Info("seeded permission", slog.String("permission", def.Key.String()))
			default:
				return fmt.Errorf("rbac: load permission %s: %w", def.Key, err)
			}
			ids[def.Key] = perm.ID
		}

		for _, def := range systemRoles {
			role, err := tx.GetRoleByName(ctx, def.Name)
			switch {
			case err == nil:
			case errors.Is(err, shared.ErrNotFound):
				role, err = tx.InsertRole(ctx, Role{
					Name:         def.Name,
					DisplayName:  def.DisplayName,
					Description:  def.Description,
					IsSystemRole: true,
					IsActive:     true,
				})
				if err != nil {
					return fmt.Errorf("rbac: seed role %s: %w", def.Name, err)
				}
				s.logger.Info("seeded role", slog.String("role", def.Name))
			default:
				return fmt.Errorf("rbac: load role %s: %w", def.Name, err)
			}
			for _, key := range def.Permissions {
				if err := tx.BindPermission(ctx, role.ID, ids[key], 0); err != nil {
					return fmt.Errorf("rbac: bind %s to %s: %w", key, def.Name, err)
				}
			}
		}
		return nil
	})
}
