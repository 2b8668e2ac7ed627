package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icu/icu/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo creates a Postgres task repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const taskCols = `id, kind, payload, status, attempts, last_error, next_run_at, created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.Kind, &t.Payload, &t.Status, &t.Attempts, &t.LastError,
		&t.NextRunAt, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func collectTasks(rows pgx.Rows) ([]*Task, error) {
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) Insert(ctx context.Context, t *Task) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO reconcile_task (kind, payload, status, attempts, next_run_at)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING id, created_at, updated_at`,
		t.Kind, t.Payload, StatusPending, t.NextRunAt,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert reconcile task: %w", err)
	}
	t.Status = StatusPending
	return nil
}

func (r *repoPG) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Task, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		UPDATE reconcile_task SET next_run_at = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM reconcile_task
			WHERE status = 'pending' AND next_run_at <= $1
			ORDER BY next_run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskCols,
		now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	return collectTasks(rows)
}

func (r *repoPG) ClaimByID(ctx context.Context, ids []string, now time.Time, lease time.Duration) ([]*Task, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		UPDATE reconcile_task SET next_run_at = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM reconcile_task
			WHERE status = 'pending' AND id = ANY($3::uuid[])
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskCols,
		now, now.Add(lease), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("claim tasks by id: %w", err)
	}
	return collectTasks(rows)
}

func (r *repoPG) MarkDone(ctx context.Context, id string, at time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE reconcile_task SET status = 'done', attempts = attempts + 1, last_error = NULL, updated_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark task %s done: %w", id, err)
	}
	return nil
}

func (r *repoPG) MarkFailed(ctx context.Context, id string, attempts int, lastErr string, nextRunAt time.Time, dead bool, at time.Time) error {
	status := StatusPending
	if dead {
		status = StatusDead
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE reconcile_task
		SET status = $2, attempts = $3, last_error = $4, next_run_at = $5, updated_at = $6
		WHERE id = $1`, id, status, attempts, lastErr, nextRunAt, at)
	if err != nil {
		return fmt.Errorf("mark task %s failed: %w", id, err)
	}
	return nil
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status, limit int) ([]*Task, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+taskCols+` FROM reconcile_task WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s tasks: %w", status, err)
	}
	return collectTasks(rows)
}
