package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unidesk/unidesk/internal/platform/db"
	"github.com/unidesk/unidesk/internal/shared"
)

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	q    db.Querier
	inTx bool
}

// NewRepository constructs a repository bound to the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// WithTx runs fn inside a RepeatableRead transaction. Nested calls reuse the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{pool: r.pool, q: tx, inTx: true})
	})
}

// IsSuperAdmin reports the super-admin flag of an active admin user.
func (r *Repository) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	var super bool
	err := r.q.QueryRow(ctx, `SELECT is_super_admin FROM admin_users WHERE id = $1 AND is_active`, userID).Scan(&super)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return super, nil
}

// ListEffectiveGrants returns permissions reachable through effective assignments of active roles.
func (r *Repository) ListEffectiveGrants(ctx context.Context, userID int64, now time.Time) ([]Grant, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT p.resource, p.action, ro.name
FROM user_roles ur
JOIN admin_users u ON u.id = ur.user_id
JOIN roles ro ON ro.id = ur.role_id
JOIN role_permissions rp ON rp.role_id = ro.id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
  AND u.is_active
  AND ur.is_active
  AND ro.is_active
  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
ORDER BY p.resource, p.action, ro.name`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.Resource, &g.Action, &g.RoleName); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// GetAdminUser loads an admin user.
func (r *Repository) GetAdminUser(ctx context.Context, userID int64) (AdminUser, error) {
	var (
		u    AdminUser
		dept *string
	)
	err := r.q.QueryRow(ctx, `SELECT id, username, department, is_super_admin, is_active FROM admin_users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Username, &dept, &u.IsSuperAdmin, &u.IsActive)
	if err != nil {
		return AdminUser{}, db.MapError(err)
	}
	if dept != nil {
		u.Department = shared.Department(*dept)
	}
	return u, nil
}

// ResourceOwner resolves the owner column of a registered ownership target.
func (r *Repository) ResourceOwner(ctx context.Context, target OwnershipTarget, resourceID int64) (int64, error) {
	spec, ok := target.spec()
	if !ok {
		return 0, fmt.Errorf("rbac: unknown ownership target %d", int(target))
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`,
		pgx.Identifier{spec.Column}.Sanitize(), pgx.Identifier{spec.Table}.Sanitize())
	var owner *int64
	if err := r.q.QueryRow(ctx, query, resourceID).Scan(&owner); err != nil {
		return 0, db.MapError(err)
	}
	if owner == nil {
		return 0, nil
	}
	return *owner, nil
}

// VerifyOwnershipTargets confirms every registered (table, column) exists in the schema.
func (r *Repository) VerifyOwnershipTargets(ctx context.Context) error {
	for _, target := range OwnershipTargets() {
		spec, _ := target.spec()
		var exists bool
		err := r.q.QueryRow(ctx, `SELECT EXISTS (
  SELECT 1 FROM information_schema.columns
  WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2)`, spec.Table, spec.Column).Scan(&exists)
		if err != nil {
			return fmt.Errorf("rbac: verify ownership target %s: %w", target, err)
		}
		if !exists {
			return fmt.Errorf("rbac: ownership target %s missing from schema", target)
		}
	}
	return nil
}

const roleColumns = `id, name, display_name, description, is_system_role, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.IsSystemRole, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, db.MapError(err)
	}
	return role, nil
}

// ListRoles returns roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context, includeInactive bool) ([]Role, error) {
	rows, err := r.q.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE is_active OR $1 ORDER BY name`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// GetRoleByName fetches a role by unique name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return scanRole(r.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

// InsertRole creates a role.
func (r *Repository) InsertRole(ctx context.Context, role Role) (Role, error) {
	return scanRole(r.q.QueryRow(ctx, `INSERT INTO roles (name, display_name, description, is_system_role, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+roleColumns, role.Name, role.DisplayName, role.Description, role.IsSystemRole, role.IsActive))
}

// UpdateRole persists mutable role fields.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	return scanRole(r.q.QueryRow(ctx, `UPDATE roles
SET name = $2, display_name = $3, description = $4, is_active = $5, updated_at = NOW()
WHERE id = $1
RETURNING `+roleColumns, role.ID, role.Name, role.DisplayName, role.Description, role.IsActive))
}

// DeactivateRole soft-deletes a role.
func (r *Repository) DeactivateRole(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `UPDATE roles SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteRole hard-deletes a role; bindings cascade.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CountRoleUsage counts assignments and bindings that reference a role.
func (r *Repository) CountRoleUsage(ctx context.Context, id int64, now time.Time) (RoleUsage, error) {
	var usage RoleUsage
	err := r.q.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND is_active AND (expires_at IS NULL OR expires_at > $2)),
  (SELECT COUNT(*) FROM user_roles WHERE role_id = $1),
  (SELECT COUNT(*) FROM role_permissions WHERE role_id = $1)`, id, now).
		Scan(&usage.ActiveAssignments, &usage.Assignments, &usage.Bindings)
	return usage, err
}

const permissionColumns = `id, resource, action, name, description, is_system_permission, created_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Resource, &p.Action, &p.Name, &p.Description, &p.IsSystemPermission, &p.CreatedAt); err != nil {
		return Permission{}, db.MapError(err)
	}
	return p, nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListPermissions returns the permission catalog.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.q.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY resource, action`)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// GetPermission fetches a permission by ID.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(r.q.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
}

// GetPermissionByKey fetches a permission by natural key.
func (r *Repository) GetPermissionByKey(ctx context.Context, key PermissionKey) (Permission, error) {
	return scanPermission(r.q.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE resource = $1 AND action = $2`, key.Resource, key.Action))
}

// InsertPermission creates a permission.
func (r *Repository) InsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	return scanPermission(r.q.QueryRow(ctx, `INSERT INTO permissions (resource, action, name, description, is_system_permission)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+permissionColumns, perm.Resource, perm.Action, perm.Name, perm.Description, perm.IsSystemPermission))
}

// UpdatePermission persists mutable permission fields.
func (r *Repository) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	return scanPermission(r.q.QueryRow(ctx, `UPDATE permissions
SET resource = $2, action = $3, name = $4, description = $5
WHERE id = $1
RETURNING `+permissionColumns, perm.ID, perm.Resource, perm.Action, perm.Name, perm.Description))
}

// DeletePermission removes a permission; bindings cascade.
func (r *Repository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListRolePermissions returns permissions bound to a role.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.q.Query(ctx, `SELECT p.id, p.resource, p.action, p.name, p.description, p.is_system_permission, p.created_at
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.resource, p.action`, roleID)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// ReplaceRolePermissions swaps the whole binding set of a role.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, granted_by, granted_at)
SELECT $1, pid, $3, NOW() FROM UNNEST($2::bigint[]) AS pid`, roleID, permissionIDs, nullableID(grantedBy))
	return db.MapError(err)
}

// BindPermission adds a single binding, ignoring an existing one.
func (r *Repository) BindPermission(ctx context.Context, roleID, permissionID, grantedBy int64) error {
	_, err := r.q.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, granted_by, granted_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID, nullableID(grantedBy))
	return db.MapError(err)
}

const assignmentColumns = `ur.user_id, ur.role_id, ro.name, ur.is_active, ur.expires_at, COALESCE(ur.assigned_by, 0), ur.assigned_at`

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	if err := row.Scan(&a.UserID, &a.RoleID, &a.RoleName, &a.IsActive, &a.ExpiresAt, &a.AssignedBy, &a.AssignedAt); err != nil {
		return Assignment{}, db.MapError(err)
	}
	return a, nil
}

// GetAssignment fetches the (user, role) assignment regardless of state.
func (r *Repository) GetAssignment(ctx context.Context, userID, roleID int64) (Assignment, error) {
	return scanAssignment(r.q.QueryRow(ctx, `SELECT `+assignmentColumns+`
FROM user_roles ur JOIN roles ro ON ro.id = ur.role_id
WHERE ur.user_id = $1 AND ur.role_id = $2`, userID, roleID))
}

// InsertAssignment creates an assignment.
func (r *Repository) InsertAssignment(ctx context.Context, a Assignment) error {
	_, err := r.q.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, is_active, expires_at, assigned_by, assigned_at)
VALUES ($1, $2, TRUE, $3, $4, $5)`, a.UserID, a.RoleID, a.ExpiresAt, nullableID(a.AssignedBy), a.AssignedAt)
	return db.MapError(err)
}

// ReactivateAssignment revives an inactive or expired assignment in place.
func (r *Repository) ReactivateAssignment(ctx context.Context, a Assignment) error {
	tag, err := r.q.Exec(ctx, `UPDATE user_roles
SET is_active = TRUE, expires_at = $3, assigned_by = $4, assigned_at = $5
WHERE user_id = $1 AND role_id = $2`, a.UserID, a.RoleID, a.ExpiresAt, nullableID(a.AssignedBy), a.AssignedAt)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeactivateAssignment revokes an assignment without deleting its history.
func (r *Repository) DeactivateAssignment(ctx context.Context, userID, roleID int64) error {
	tag, err := r.q.Exec(ctx, `UPDATE user_roles SET is_active = FALSE WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListUserAssignments returns every assignment of a user, active first.
func (r *Repository) ListUserAssignments(ctx context.Context, userID int64) ([]Assignment, error) {
	rows, err := r.q.Query(ctx, `SELECT `+assignmentColumns+`
FROM user_roles ur JOIN roles ro ON ro.id = ur.role_id
WHERE ur.user_id = $1
ORDER BY ur.is_active DESC, ro.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeactivateExpiredAssignments flips is_active off for assignments past their expiry.
func (r *Repository) DeactivateExpiredAssignments(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `UPDATE user_roles SET is_active = FALSE WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

var _ Store = (*Repository)(nil)
