package users

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unidesk/unidesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns admin users with the names of their effective roles.
func (r *Repository) ListUsers(ctx context.Context, filters ListFilters) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT u.id, u.username, u.full_name, COALESCE(u.department, ''), u.is_super_admin, u.is_active, u.created_at,
       COALESCE(array_agg(ro.name ORDER BY ro.name) FILTER (WHERE ro.id IS NOT NULL), '{}') AS roles
FROM admin_users u
LEFT JOIN user_roles ur ON ur.user_id = u.id AND ur.is_active AND (ur.expires_at IS NULL OR ur.expires_at > $3)
LEFT JOIN roles ro ON ro.id = ur.role_id AND ro.is_active
WHERE ($1 = '' OR u.department = $1)
  AND (NOT $2 OR u.is_active)
GROUP BY u.id
ORDER BY u.username`, string(filters.Department), filters.ActiveOnly, time.Now())
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var department string
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &department, &u.IsSuperAdmin, &u.IsActive, &u.CreatedAt, &u.Roles); err != nil {
			return nil, err
		}
		u.Department = shared.Department(department)
		users = append(users, u)
	}
	return users, rows.Err()
}
