// Package reconcile runs housekeeping that must eventually happen after a
// committed transition. Tasks are enqueued inside the transition's
// transaction, run once inline after commit, and retried by a background
// worker until they succeed or exhaust their attempts.
package reconcile

import (
	"context"
	"encoding/json"
	"time"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusDead    Status = "dead"
)

// Task is one queued unit of housekeeping.
type Task struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"last_error,omitempty"`
	NextRunAt time.Time       `json:"next_run_at"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Handler performs a task. It must be idempotent: a task may run again after
// a crash between the handler's writes and the task being marked done.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Repository persists tasks. Insert joins the caller's transaction.
type Repository interface {
	Insert(ctx context.Context, t *Task) error
	// ClaimDue leases up to limit pending tasks whose next_run_at has passed,
	// pushing next_run_at to now+lease so no other worker picks them up.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Task, error)
	// ClaimByID leases the named pending tasks regardless of next_run_at.
	ClaimByID(ctx context.Context, ids []string, now time.Time, lease time.Duration) ([]*Task, error)
	MarkDone(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string, nextRunAt time.Time, dead bool, at time.Time) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Task, error)
}

const (
	baseBackoff = 30 * time.Second
	maxBackoff  = time.Hour
)

// Backoff returns the delay before retry number attempts (1-based).
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return baseBackoff
	}
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
