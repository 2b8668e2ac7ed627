package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/platform/telemetry"
)

// Lease is how long a claimed task is hidden from other runners.
const Lease = 5 * time.Minute

// inlineGrace delays the worker's first look at a fresh task so the inline
// run after commit gets it first.
const inlineGrace = time.Minute

// Result is the outcome of one task run.
type Result struct {
	TaskID string
	Kind   string
	Err    error
}

// Runner enqueues and executes tasks.
type Runner struct {
	repo        Repository
	handlers    map[string]Handler
	maxAttempts int
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRunner creates a runner that marks tasks dead after maxAttempts failures.
func NewRunner(repo Repository, maxAttempts int, logger zerolog.Logger) *Runner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Runner{
		repo:        repo,
		handlers:    make(map[string]Handler),
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("component", "reconcile").Logger(),
		now:         time.Now,
	}
}

// Register binds a handler to a task kind.
func (r *Runner) Register(kind string, h Handler) {
	r.handlers[kind] = h
}

// Enqueue persists a pending task. Call it inside the transaction whose
// commit makes the task necessary.
func (r *Runner) Enqueue(ctx context.Context, kind string, payload interface{}) (*Task, error) {
	if _, ok := r.handlers[kind]; !ok {
		return nil, fmt.Errorf("enqueue: no handler for task kind %q", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	t := &Task{Kind: kind, Payload: data, NextRunAt: r.now().Add(inlineGrace)}
	if err := r.repo.Insert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RunNow claims and runs the given tasks in order. Tasks already claimed by
// another runner or no longer pending are skipped.
func (r *Runner) RunNow(ctx context.Context, ids ...string) []Result {
	if len(ids) == 0 {
		return nil
	}
	claimed, err := r.repo.ClaimByID(ctx, ids, r.now(), Lease)
	if err != nil {
		r.logger.Warn().Err(err).Strs("task_ids", ids).Msg("claim tasks for inline run")
		results := make([]Result, 0, len(ids))
		for _, id := range ids {
			results = append(results, Result{TaskID: id, Err: err})
		}
		return results
	}

	byID := make(map[string]*Task, len(claimed))
	for _, t := range claimed {
		byID[t.ID] = t
	}
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			continue
		}
		results = append(results, Result{TaskID: t.ID, Kind: t.Kind, Err: r.run(ctx, t)})
	}
	return results
}

// Tasks lists up to limit tasks in status, most recently updated first.
func (r *Runner) Tasks(ctx context.Context, status Status, limit int) ([]*Task, error) {
	switch status {
	case StatusPending, StatusDone, StatusDead:
	default:
		return nil, fmt.Errorf("unknown task status %q", status)
	}
	return r.repo.ListByStatus(ctx, status, limit)
}

// RunDue claims and runs up to limit due tasks. It returns how many ran.
func (r *Runner) RunDue(ctx context.Context, limit int) (int, error) {
	tasks, err := r.repo.ClaimDue(ctx, r.now(), Lease, limit)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		_ = r.run(ctx, t)
	}
	return len(tasks), nil
}

func (r *Runner) run(ctx context.Context, t *Task) error {
	h, ok := r.handlers[t.Kind]
	var err error
	if !ok {
		err = fmt.Errorf("no handler for task kind %q", t.Kind)
	} else {
		err = safeCall(ctx, h, t.Payload)
	}

	now := r.now()
	if err == nil {
		if mErr := r.repo.MarkDone(ctx, t.ID, now); mErr != nil {
			r.logger.Error().Err(mErr).Str("task_id", t.ID).Msg("mark task done")
		}
		return nil
	}

	telemetry.RecordHousekeepingFailure(t.Kind)
	attempts := t.Attempts + 1
	dead := attempts >= r.maxAttempts
	next := now.Add(Backoff(attempts))

	evt := r.logger.Warn()
	if dead {
		evt = r.logger.Error()
	}
	evt.Err(err).
		Str("task_id", t.ID).
		Str("kind", t.Kind).
		Int("attempts", attempts).
		Bool("dead", dead).
		Time("next_run_at", next).
		Msg("reconcile task failed")

	if mErr := r.repo.MarkFailed(ctx, t.ID, attempts, err.Error(), next, dead, now); mErr != nil {
		r.logger.Error().Err(mErr).Str("task_id", t.ID).Msg("record task failure")
	}
	return err
}

func safeCall(ctx context.Context, h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task handler panicked: %v", p)
		}
	}()
	return h(ctx, payload)
}

// Worker polls for due tasks until ctx is cancelled.
func (r *Runner) Worker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Msg("reconcile worker started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconcile worker stopped")
			return
		case <-ticker.C:
			n, err := r.RunDue(ctx, 50)
			if err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("claim due tasks")
				continue
			}
			if n > 0 {
				r.logger.Debug().Int("tasks", n).Msg("ran due reconcile tasks")
			}
		}
	}
}
