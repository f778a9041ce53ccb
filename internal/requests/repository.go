package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unidesk/unidesk/internal/cooldown"
	"github.com/unidesk/unidesk/internal/platform/db"
	"github.com/unidesk/unidesk/internal/shared"
)

// Store is the persistence contract of the requests service.
type Store interface {
	ResolveDepartment(ctx context.Context, typeID int64) (shared.Department, error)
	ListRequestTypes(ctx context.Context) ([]RequestType, error)
	Get(ctx context.Context, id int64) (Request, error)
	ListByStudent(ctx context.Context, studentID int64) ([]Request, error)
	ListByDepartment(ctx context.Context, department shared.Department, filters ListFilters) ([]Request, error)
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// TxStore runs inside a creation or update transaction.
type TxStore interface {
	GetForUpdate(ctx context.Context, id int64) (Request, error)
	Insert(ctx context.Context, req Request) (Request, error)
	UpdateStatus(ctx context.Context, id int64, status Status, response *string, respondedBy int64, at time.Time) (Request, error)
	RecordCooldown(ctx context.Context, studentID int64, department shared.Department, at time.Time) error
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	q    db.Querier
}

// NewRepository constructs a repository bound to the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
}

// ResolveDepartment maps an active request type to its department.
func (r *Repository) ResolveDepartment(ctx context.Context, typeID int64) (shared.Department, error) {
	var department string
	err := r.q.QueryRow(ctx, `SELECT department FROM request_types WHERE id = $1 AND is_active`, typeID).Scan(&department)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.Reject(shared.ErrNotFound, "Request type not found", map[string]any{"request_type_id": typeID})
	}
	if err != nil {
		return "", fmt.Errorf("requests: resolve type: %w", err)
	}
	dept := shared.Department(department)
	if !dept.Valid() {
		return "", shared.Reject(shared.ErrInvalid, "Request type has an unknown department", map[string]any{"request_type_id": typeID})
	}
	return dept, nil
}

// ListRequestTypes returns active request types.
func (r *Repository) ListRequestTypes(ctx context.Context) ([]RequestType, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, description, department, is_active
FROM request_types WHERE is_active ORDER BY department, name`)
	if err != nil {
		return nil, fmt.Errorf("requests: list types: %w", err)
	}
	defer rows.Close()
	var types []RequestType
	for rows.Next() {
		var t RequestType
		var department string
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &department, &t.IsActive); err != nil {
			return nil, err
		}
		t.Department = shared.Department(department)
		types = append(types, t)
	}
	return types, rows.Err()
}

const requestColumns = `id, student_id, request_type_id, department, title, description, status,
response, responded_by, responded_at, created_at, updated_at`

// Get loads one request.
func (r *Repository) Get(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, r.q, id, false)
}

// ListByStudent returns a student's requests, newest first.
func (r *Repository) ListByStudent(ctx context.Context, studentID int64) ([]Request, error) {
	rows, err := r.q.Query(ctx, `SELECT `+requestColumns+` FROM requests WHERE student_id = $1 ORDER BY created_at DESC, id DESC`, studentID)
	if err != nil {
		return nil, fmt.Errorf("requests: list by student: %w", err)
	}
	return collectRequests(rows)
}

// ListByDepartment returns a department queue, oldest first.
func (r *Repository) ListByDepartment(ctx context.Context, department shared.Department, filters ListFilters) ([]Request, error) {
	rows, err := r.q.Query(ctx, `SELECT `+requestColumns+` FROM requests
WHERE department = $1 AND ($2 = '' OR status = $2)
ORDER BY created_at ASC, id ASC
LIMIT $3`, string(department), string(filters.Status), filters.Limit)
	if err != nil {
		return nil, fmt.Errorf("requests: list by department: %w", err)
	}
	return collectRequests(rows)
}

type txRepository struct {
	q db.Querier
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, t.q, id, true)
}

func (t *txRepository) Insert(ctx context.Context, req Request) (Request, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO requests (student_id, request_type_id, department, title, description, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
RETURNING `+requestColumns,
		req.StudentID, req.RequestTypeID, string(req.Department), req.Title, req.Description, string(req.Status), req.CreatedAt)
	out, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("requests: insert: %w", db.MapError(err))
	}
	return out, nil
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, response *string, respondedBy int64, at time.Time) (Request, error) {
	row := t.q.QueryRow(ctx, `UPDATE requests
SET status = $2, response = COALESCE($3, response), responded_by = $4, responded_at = $5, updated_at = $5
WHERE id = $1
RETURNING `+requestColumns, id, string(status), response, respondedBy, at)
	out, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("requests: update status: %w", db.MapError(err))
	}
	return out, nil
}

func (t *txRepository) RecordCooldown(ctx context.Context, studentID int64, department shared.Department, at time.Time) error {
	return cooldown.Record(ctx, cooldown.NewRepository(t.q), studentID, department, at)
}

func getRequest(ctx context.Context, q db.Querier, id int64, lock bool) (Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	out, err := scanRequest(q.QueryRow(ctx, query, id))
	if err != nil {
		return Request{}, fmt.Errorf("requests: get %d: %w", id, db.MapError(err))
	}
	return out, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var department, status string
	err := row.Scan(&req.ID, &req.StudentID, &req.RequestTypeID, &department, &req.Title, &req.Description, &status,
		&req.Response, &req.RespondedBy, &req.RespondedAt, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	req.Department = shared.Department(department)
	req.Status = Status(status)
	return req, nil
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
