package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const enqueueTaskSQL = `
INSERT INTO tasks (id, queue, name, eta_time, payload, attempts, done, created_at)
VALUES ($1, $2, $3, $4, $5, 0, false, now())
ON CONFLICT (queue, name) WHERE NOT done DO NOTHING
RETURNING id, queue, name, eta_time, payload, attempts, locked_by, locked_at, done, created_at`

// EnqueueTask inserts a named task, idempotently: a second enqueue of the
// same (queue, name) before the first completes is a no-op, matching the
// original's task_name dedup for delayed fetches and retries.
func (q *Queries) EnqueueTask(ctx context.Context, arg EnqueueTaskParams) (Task, error) {
	rows, err := q.pool.Query(ctx, enqueueTaskSQL, arg.ID, arg.Queue, arg.Name, arg.EtaTime, arg.Payload)
	if err != nil {
		return Task{}, fmt.Errorf("enqueue task: %w", err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Task])
	rows.Close()
	if err == nil {
		return t, nil
	}
	if err != pgx.ErrNoRows {
		return Task{}, fmt.Errorf("enqueue task: %w", err)
	}
	// Already enqueued under this name; return the existing row.
	existing, err := q.pool.Query(ctx, `
		SELECT id, queue, name, eta_time, payload, attempts, locked_by, locked_at, done, created_at
		FROM tasks WHERE queue = $1 AND name = $2 AND NOT done`, arg.Queue, arg.Name)
	if err != nil {
		return Task{}, fmt.Errorf("enqueue task lookup existing: %w", err)
	}
	defer existing.Close()
	return pgx.CollectExactlyOneRow(existing, pgx.RowToStructByName[Task])
}

const claimDueTasksSQL = `
UPDATE tasks SET locked_by = $2, locked_at = now(), attempts = attempts + 1
WHERE id IN (
  SELECT id FROM tasks
  WHERE queue = $1 AND NOT done AND eta_time <= now()
    AND (locked_at IS NULL OR locked_at < now() - interval '10 minutes')
  ORDER BY eta_time ASC LIMIT $3 FOR UPDATE SKIP LOCKED
)
RETURNING id, queue, name, eta_time, payload, attempts, locked_by, locked_at, done, created_at`

// ClaimDueTasks leases up to limit due tasks on queue to lockedBy using
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never double-run
// a task (internal/taskqueue.Dispatcher). A claimed task is skipped until it
// is completed or released; a claim older than ten minutes counts as
// abandoned, and the task becomes claimable again.
func (q *Queries) ClaimDueTasks(ctx context.Context, queue, lockedBy string, limit int32) ([]Task, error) {
	rows, err := q.pool.Query(ctx, claimDueTasksSQL, queue, lockedBy, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[Task])
}

func (q *Queries) CompleteTask(ctx context.Context, id pgtype.UUID) error {
	_, err := q.pool.Exec(ctx, `UPDATE tasks SET done = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

func (q *Queries) ReleaseTask(ctx context.Context, id pgtype.UUID, nextEta pgtype.Timestamptz) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE tasks SET eta_time = $2, locked_by = NULL, locked_at = NULL WHERE id = $1`, id, nextEta)
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	return nil
}
