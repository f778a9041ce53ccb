package rbac

import (
	"context"
	"time"
)

// Reader is the query side used by permission checks.
type Reader interface {
	IsSuperAdmin(ctx context.Context, userID int64) (bool, error)
	ListEffectiveGrants(ctx context.Context, userID int64, now time.Time) ([]Grant, error)
	GetAdminUser(ctx context.Context, userID int64) (AdminUser, error)
	// ResourceOwner returns the owner column value of the row, shared.ErrNotFound when
	// the row is missing and 0 when the owner column is NULL.
	ResourceOwner(ctx context.Context, target OwnershipTarget, resourceID int64) (int64, error)
}

// TxStore exposes every query and mutation; it runs either on the pool or inside a transaction.
type TxStore interface {
	Reader

	ListRoles(ctx context.Context, includeInactive bool) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeactivateRole(ctx context.Context, id int64) error
	DeleteRole(ctx context.Context, id int64) error
	CountRoleUsage(ctx context.Context, id int64, now time.Time) (RoleUsage, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByKey(ctx context.Context, key PermissionKey) (Permission, error)
	InsertPermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, perm Permission) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error

	ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error
	BindPermission(ctx context.Context, roleID, permissionID, grantedBy int64) error

	GetAssignment(ctx context.Context, userID, roleID int64) (Assignment, error)
	InsertAssignment(ctx context.Context, a Assignment) error
	ReactivateAssignment(ctx context.Context, a Assignment) error
	DeactivateAssignment(ctx context.Context, userID, roleID int64) error
	ListUserAssignments(ctx context.Context, userID int64) ([]Assignment, error)
	DeactivateExpiredAssignments(ctx context.Context, now time.Time) (int64, error)
}

// Store is a TxStore that can open transactions.
type Store interface {
	TxStore
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}
