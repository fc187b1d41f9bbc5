// Package postgres implements a durable job queue on a Postgres table.
//
// Expected schema:
//
//	CREATE TABLE harvest_jobs (
//		id          TEXT PRIMARY KEY,
//		seq         BIGSERIAL,
//		state       TEXT NOT NULL,
//		enqueued_at TIMESTAMPTZ NOT NULL,
//		attempt     INTEGER NOT NULL DEFAULT 0,
//		source      TEXT NOT NULL DEFAULT '',
//		reason      TEXT NOT NULL DEFAULT '',
//		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX harvest_jobs_state_seq ON harvest_jobs (state, seq);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Queue stores jobs in Postgres. Claims use FOR UPDATE SKIP LOCKED so concurrent
// consumers never activate the same job. The pool is owned by the caller.
type Queue struct {
	pool   querier
	table  string
	closed atomic.Bool
}

// New wraps an existing pool.
func New(pool querier, table string) (*Queue, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "harvest_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Queue{pool: pool, table: table}, nil
}

// Enqueue inserts a waiting job.
func (q *Queue) Enqueue(ctx context.Context, job harvest.BatchJob) (string, error) {
	if q.closed.Load() {
		return "", harvest.ErrQueueClosed
	}
	if job.ID == "" {
		return "", fmt.Errorf("job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, state, enqueued_at, attempt, source, reason)
VALUES ($1, $2, $3, $4, $5, $6)`, q.table)
	if _, err := q.pool.Exec(ctx, query,
		job.ID, string(harvest.JobStateWaiting), job.EnqueuedAt.UTC(), job.Attempt, job.Source, job.Reason,
	); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return job.ID, nil
}

// Claim activates the oldest waiting job.
func (q *Queue) Claim(ctx context.Context) (harvest.BatchJob, bool, error) {
	if q.closed.Load() {
		return harvest.BatchJob{}, false, harvest.ErrQueueClosed
	}
	query := fmt.Sprintf(`
UPDATE %[1]s SET state = $1, attempt = attempt + 1, updated_at = now()
WHERE id = (
	SELECT id FROM %[1]s WHERE state = $2 ORDER BY seq LIMIT 1 FOR UPDATE SKIP LOCKED
)
RETURNING id, enqueued_at, attempt, source, reason`, q.table)

	job := harvest.BatchJob{State: harvest.JobStateActive}
	err := q.pool.QueryRow(ctx, query, string(harvest.JobStateActive), string(harvest.JobStateWaiting)).
		Scan(&job.ID, &job.EnqueuedAt, &job.Attempt, &job.Source, &job.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.BatchJob{}, false, nil
	}
	if err != nil {
		return harvest.BatchJob{}, false, fmt.Errorf("claim job: %w", err)
	}
	job.EnqueuedAt = job.EnqueuedAt.UTC()
	return job, true, nil
}

// Complete marks an active job completed.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	return q.finish(ctx, jobID, harvest.JobStateCompleted, "")
}

// Fail marks an active job failed.
func (q *Queue) Fail(ctx context.Context, jobID string, reason string) error {
	return q.finish(ctx, jobID, harvest.JobStateFailed, reason)
}

func (q *Queue) finish(ctx context.Context, jobID string, state harvest.JobState, reason string) error {
	if q.closed.Load() {
		return harvest.ErrQueueClosed
	}
	query := fmt.Sprintf(`
UPDATE %s SET state = $2, reason = $3, updated_at = now()
WHERE id = $1 AND state = $4`, q.table)
	tag, err := q.pool.Exec(ctx, query, jobID, string(state), reason, string(harvest.JobStateActive))
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is missing or not active: %w", jobID, harvest.ErrInvalidTransition)
	}
	return nil
}

// Depth counts jobs per state.
func (q *Queue) Depth(ctx context.Context) (harvest.QueueDepth, error) {
	if q.closed.Load() {
		return harvest.QueueDepth{}, harvest.ErrQueueClosed
	}
	rows, err := q.pool.Query(ctx, fmt.Sprintf(`SELECT state, count(*) FROM %s GROUP BY state`, q.table))
	if err != nil {
		return harvest.QueueDepth{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var d harvest.QueueDepth
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return harvest.QueueDepth{}, fmt.Errorf("scan depth row: %w", err)
		}
		switch harvest.JobState(state) {
		case harvest.JobStateWaiting:
			d.Waiting = int(n)
		case harvest.JobStateActive:
			d.Active = int(n)
		case harvest.JobStateDelayed:
			d.Delayed = int(n)
		case harvest.JobStateCompleted:
			d.Completed = int(n)
		case harvest.JobStateFailed:
			d.Failed = int(n)
		}
	}
	if err := rows.Err(); err != nil {
		return harvest.QueueDepth{}, fmt.Errorf("iterate depth rows: %w", err)
	}
	return d, nil
}

// PurgeAll deletes every job.
func (q *Queue) PurgeAll(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, harvest.ErrQueueClosed
	}
	tag, err := q.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, q.table))
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close rejects further operations. The pool stays open.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}
