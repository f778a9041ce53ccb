package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unidesk/unidesk/internal/platform/db"
	"github.com/unidesk/unidesk/internal/shared"
)

// Store is the persistence contract of the cooldown policy.
type Store interface {
	LastRequest(ctx context.Context, studentID int64, department shared.Department) (time.Time, bool, error)
	// Claim records a request at the given instant unless the stored one is less than
	// Window older. It reports whether the row was written.
	Claim(ctx context.Context, studentID int64, department shared.Department, at time.Time) (bool, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repository stores one row per (student, department) in department_request_limits.
type Repository struct {
	q db.Querier
}

// NewRepository binds the repository to a pool or a transaction.
func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

// LastRequest returns the last recorded request time, if any.
func (r *Repository) LastRequest(ctx context.Context, studentID int64, department shared.Department) (time.Time, bool, error) {
	var last time.Time
	err := r.q.QueryRow(ctx, `SELECT last_request_time FROM department_request_limits
WHERE student_id = $1 AND department = $2`, studentID, string(department)).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cooldown: load last request: %w", err)
	}
	return last, true, nil
}

// Claim upserts the row only when no cooldown is active at the given instant.
// Concurrent claims on one row serialize on the unique constraint; the loser
// either sees the fresh timestamp or gets a serialization failure, and both
// count as not claimed.
func (r *Repository) Claim(ctx context.Context, studentID int64, department shared.Department, at time.Time) (bool, error) {
	var one int
	err := r.q.QueryRow(ctx, `INSERT INTO department_request_limits (student_id, department, last_request_time)
VALUES ($1, $2, $3)
ON CONFLICT (student_id, department) DO UPDATE SET last_request_time = EXCLUDED.last_request_time
WHERE department_request_limits.last_request_time <= $4
RETURNING 1`,
		studentID, string(department), at, at.Add(-Window)).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows), db.IsSerializationFailure(err):
		return false, nil
	default:
		return false, fmt.Errorf("cooldown: claim: %w", db.MapError(err))
	}
}

// PurgeBefore deletes rows whose last request is older than cutoff.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM department_request_limits WHERE last_request_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cooldown: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
