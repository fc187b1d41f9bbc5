// Package badger implements a durable, embedded job queue on badgerhold.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

var sequenceKey = []byte("harvest:job_seq")

// jobRecord is the persisted form of a BatchJob. Seq orders claims.
type jobRecord struct {
	ID         string
	Seq        uint64
	State      string `badgerhold:"index"`
	EnqueuedAt time.Time
	Attempt    int
	Source     string
	Reason     string
}

func (r jobRecord) job() harvest.BatchJob {
	return harvest.BatchJob{
		ID:         r.ID,
		EnqueuedAt: r.EnqueuedAt,
		Attempt:    r.Attempt,
		State:      harvest.JobState(r.State),
		Source:     r.Source,
		Reason:     r.Reason,
	}
}

// Queue stores jobs in an embedded badger database shared with other stores.
type Queue struct {
	store  *badgerhold.Store
	seq    *badgerdb.Sequence
	mu     sync.Mutex
	closed bool
}

// New builds a queue on an open badgerhold store. The store is owned by the caller.
func New(store *badgerhold.Store) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("badger store is required")
	}
	seq, err := store.Badger().GetSequence(sequenceKey, 16)
	if err != nil {
		return nil, fmt.Errorf("lease job sequence: %w", err)
	}
	return &Queue{store: store, seq: seq}, nil
}

// Enqueue persists a waiting job.
func (q *Queue) Enqueue(_ context.Context, job harvest.BatchJob) (string, error) {
	if job.ID == "" {
		return "", fmt.Errorf("job id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", harvest.ErrQueueClosed
	}
	n, err := q.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next job sequence: %w", err)
	}
	rec := jobRecord{
		ID:         job.ID,
		Seq:        n,
		State:      string(harvest.JobStateWaiting),
		EnqueuedAt: job.EnqueuedAt.UTC(),
		Attempt:    job.Attempt,
		Source:     job.Source,
		Reason:     job.Reason,
	}
	if err := q.store.Insert(job.ID, rec); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return job.ID, nil
}

// Claim activates the oldest waiting job.
func (q *Queue) Claim(_ context.Context) (harvest.BatchJob, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return harvest.BatchJob{}, false, harvest.ErrQueueClosed
	}
	var claimed *jobRecord
	err := q.store.Badger().Update(func(tx *badgerdb.Txn) error {
		var waiting []jobRecord
		query := badgerhold.Where("State").Eq(string(harvest.JobStateWaiting)).Index("State").SortBy("Seq").Limit(1)
		if err := q.store.TxFind(tx, &waiting, query); err != nil {
			return err
		}
		if len(waiting) == 0 {
			return nil
		}
		rec := waiting[0]
		rec.State = string(harvest.JobStateActive)
		rec.Attempt++
		if err := q.store.TxUpdate(tx, rec.ID, rec); err != nil {
			return err
		}
		claimed = &rec
		return nil
	})
	if err != nil {
		return harvest.BatchJob{}, false, fmt.Errorf("claim job: %w", err)
	}
	if claimed == nil {
		return harvest.BatchJob{}, false, nil
	}
	return claimed.job(), true, nil
}

// Complete marks an active job completed.
func (q *Queue) Complete(_ context.Context, jobID string) error {
	return q.finish(jobID, harvest.JobStateCompleted, "")
}

// Fail marks an active job failed.
func (q *Queue) Fail(_ context.Context, jobID string, reason string) error {
	return q.finish(jobID, harvest.JobStateFailed, reason)
}

func (q *Queue) finish(jobID string, state harvest.JobState, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return harvest.ErrQueueClosed
	}
	return q.store.Badger().Update(func(tx *badgerdb.Txn) error {
		var rec jobRecord
		if err := q.store.TxGet(tx, jobID, &rec); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
			}
			return fmt.Errorf("get job %s: %w", jobID, err)
		}
		if rec.State != string(harvest.JobStateActive) {
			return fmt.Errorf("job %s is %s: %w", jobID, rec.State, harvest.ErrInvalidTransition)
		}
		rec.State = string(state)
		rec.Reason = reason
		if err := q.store.TxUpdate(tx, jobID, rec); err != nil {
			return fmt.Errorf("update job %s: %w", jobID, err)
		}
		return nil
	})
}

// Depth counts jobs per state.
func (q *Queue) Depth(_ context.Context) (harvest.QueueDepth, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return harvest.QueueDepth{}, harvest.ErrQueueClosed
	}
	var d harvest.QueueDepth
	counts := []struct {
		state harvest.JobState
		dst   *int
	}{
		{harvest.JobStateWaiting, &d.Waiting},
		{harvest.JobStateActive, &d.Active},
		{harvest.JobStateDelayed, &d.Delayed},
		{harvest.JobStateCompleted, &d.Completed},
		{harvest.JobStateFailed, &d.Failed},
	}
	for _, c := range counts {
		n, err := q.store.Count(&jobRecord{}, badgerhold.Where("State").Eq(string(c.state)).Index("State"))
		if err != nil {
			return harvest.QueueDepth{}, fmt.Errorf("count %s jobs: %w", c.state, err)
		}
		*c.dst = int(n)
	}
	return d, nil
}

// PurgeAll deletes every job.
func (q *Queue) PurgeAll(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, harvest.ErrQueueClosed
	}
	var all []jobRecord
	if err := q.store.Find(&all, nil); err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	for _, rec := range all {
		if err := q.store.Delete(rec.ID, jobRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return 0, fmt.Errorf("delete job %s: %w", rec.ID, err)
		}
	}
	return len(all), nil
}

// Close releases the sequence lease. The badger store stays open.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if err := q.seq.Release(); err != nil {
		return fmt.Errorf("release job sequence: %w", err)
	}
	return nil
}
