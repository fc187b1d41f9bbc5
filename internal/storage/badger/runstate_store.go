package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

const runStateKey = "harvest:last_run_started_at"

type runStateRecord struct {
	StartedAt time.Time
}

// RunStateStore persists the last run start in a badgerhold store.
type RunStateStore struct {
	store *badgerhold.Store
}

// NewRunStateStore wraps an open badgerhold store.
func NewRunStateStore(store *badgerhold.Store) (*RunStateStore, error) {
	if store == nil {
		return nil, fmt.Errorf("badger store is required")
	}
	return &RunStateStore{store: store}, nil
}

// LastRunStartedAt returns the stored run start, if any.
func (s *RunStateStore) LastRunStartedAt(_ context.Context) (time.Time, bool, error) {
	var rec runStateRecord
	if err := s.store.Get(runStateKey, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("get run state: %w", err)
	}
	return rec.StartedAt.UTC(), true, nil
}

// MarkRunStarted records a run start in a single transaction, refusing to move backwards.
func (s *RunStateStore) MarkRunStarted(_ context.Context, at time.Time) error {
	return s.store.Badger().Update(func(tx *badgerdb.Txn) error {
		var current runStateRecord
		err := s.store.TxGet(tx, runStateKey, &current)
		switch {
		case err == nil:
			if at.Before(current.StartedAt) {
				return harvest.ErrStaleRunState
			}
		case errors.Is(err, badgerhold.ErrNotFound):
		default:
			return fmt.Errorf("get run state: %w", err)
		}
		if err := s.store.TxUpsert(tx, runStateKey, runStateRecord{StartedAt: at.UTC()}); err != nil {
			return fmt.Errorf("upsert run state: %w", err)
		}
		return nil
	})
}
