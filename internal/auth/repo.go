package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unidesk/unidesk/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindAdmin(ctx context.Context, username string) (*Account, error)
	FindStudent(ctx context.Context, studentNumber string) (*Account, error)
	GetAccount(ctx context.Context, kind shared.ActorKind, id int64) (*Account, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const (
	adminSelect   = `SELECT id, username, full_name, COALESCE(department, ''), is_super_admin, password_hash, is_active FROM admin_users`
	studentSelect = `SELECT id, student_number, full_name, password_hash, is_active FROM students`
)

// FindAdmin fetches an admin user by username.
func (r *PGRepository) FindAdmin(ctx context.Context, username string) (*Account, error) {
	return scanAdmin(r.pool.QueryRow(ctx, adminSelect+` WHERE username = $1`, username))
}

// FindStudent fetches a student by student number.
func (r *PGRepository) FindStudent(ctx context.Context, studentNumber string) (*Account, error) {
	return scanStudent(r.pool.QueryRow(ctx, studentSelect+` WHERE student_number = $1`, studentNumber))
}

// GetAccount loads the account bound to a session.
func (r *PGRepository) GetAccount(ctx context.Context, kind shared.ActorKind, id int64) (*Account, error) {
	switch kind {
	case shared.ActorAdmin:
		return scanAdmin(r.pool.QueryRow(ctx, adminSelect+` WHERE id = $1`, id))
	case shared.ActorStudent:
		return scanStudent(r.pool.QueryRow(ctx, studentSelect+` WHERE id = $1`, id))
	default:
		return nil, shared.ErrNotFound
	}
}

func scanAdmin(row pgx.Row) (*Account, error) {
	acc := &Account{Kind: shared.ActorAdmin}
	var department string
	if err := row.Scan(&acc.ID, &acc.Username, &acc.FullName, &department, &acc.IsSuperAdmin, &acc.PasswordHash, &acc.IsActive); err != nil {
		return nil, mapNoRows(err)
	}
	acc.Department = shared.Department(department)
	return acc, nil
}

func scanStudent(row pgx.Row) (*Account, error) {
	acc := &Account{Kind: shared.ActorStudent}
	if err := row.Scan(&acc.ID, &acc.Username, &acc.FullName, &acc.PasswordHash, &acc.IsActive); err != nil {
		return nil, mapNoRows(err)
	}
	return acc, nil
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return fmt.Errorf("auth: load account: %w", err)
}

var _ Repository = (*PGRepository)(nil)
