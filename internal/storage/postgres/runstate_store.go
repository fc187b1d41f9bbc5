package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

// RunStateKey is the row key holding the last run start.
const RunStateKey = "harvest:last_run_started_at"

// RunStateStore persists the last run start in a key/timestamp table.
type RunStateStore struct {
	pool  querier
	table string
}

// NewRunStateStore wraps an existing pool. The pool is owned by the caller unless Close is invoked.
func NewRunStateStore(pool querier, table string) (*RunStateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableOrDefault(table, "harvest_state")
	if err != nil {
		return nil, err
	}
	return &RunStateStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// LastRunStartedAt returns the stored run start, if any.
func (s *RunStateStore) LastRunStartedAt(ctx context.Context) (time.Time, bool, error) {
	query := fmt.Sprintf(`SELECT started_at FROM %s WHERE key = $1`, s.table)
	var startedAt time.Time
	if err := s.pool.QueryRow(ctx, query, RunStateKey).Scan(&startedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("select run state: %w", err)
	}
	return startedAt.UTC(), true, nil
}

// MarkRunStarted upserts the run start. The conditional update keeps the value
// monotonic even when two writers race.
func (s *RunStateStore) MarkRunStarted(ctx context.Context, at time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (key, started_at) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET started_at = EXCLUDED.started_at
WHERE %[1]s.started_at <= EXCLUDED.started_at`, s.table)

	tag, err := s.pool.Exec(ctx, query, RunStateKey, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert run state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrStaleRunState
	}
	return nil
}
