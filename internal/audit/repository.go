package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository persists decisions in authz_audit_log.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertDecisions writes decisions in one batch; duplicates from task retries are ignored.
func (r *PGRepository) InsertDecisions(ctx context.Context, decisions []Decision) error {
	batch := &pgx.Batch{}
	for _, d := range decisions {
		batch.Queue(`INSERT INTO authz_audit_log (id, actor_id, resource, action, granted, path, method, route, decided_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`,
			d.ID, d.ActorID, d.Resource, d.Action, d.Granted, string(d.Path), d.Method, d.Route, d.At)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range decisions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("audit: insert decision: %w", err)
		}
	}
	return nil
}

// QueryDecisions returns matching decisions newest first.
func (r *PGRepository) QueryDecisions(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Decision, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !filters.From.IsZero() {
		add("decided_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("decided_at < $%d", filters.To)
	}
	if filters.ActorID > 0 {
		add("actor_id = $%d", filters.ActorID)
	}
	if p := strings.TrimSpace(filters.Permission); p != "" {
		add("resource || '.' || action = $%d", p)
	}
	if filters.Granted != nil {
		add("granted = $%d", *filters.Granted)
	}

	query := `SELECT id, actor_id, resource, action, granted, path, method, route, decided_at FROM authz_audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY decided_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Decision
	for rows.Next() {
		var (
			d    Decision
			path string
		)
		if err := rows.Scan(&d.ID, &d.ActorID, &d.Resource, &d.Action, &d.Granted, &path, &d.Method, &d.Route, &d.At); err != nil {
			return nil, err
		}
		d.Path = Path(path)
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
