// Package memory provides an in-process job queue for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

// Queue is a FIFO job queue held in memory. Terminal jobs are retained so depth
// reporting matches the durable backends.
type Queue struct {
	mu     sync.Mutex
	order  []string
	jobs   map[string]*harvest.BatchJob
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{jobs: make(map[string]*harvest.BatchJob)}
}

// Enqueue appends a waiting job.
func (q *Queue) Enqueue(ctx context.Context, job harvest.BatchJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("enqueue canceled: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("job id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", harvest.ErrQueueClosed
	}
	if _, exists := q.jobs[job.ID]; exists {
		return "", fmt.Errorf("job %s already enqueued", job.ID)
	}
	job.State = harvest.JobStateWaiting
	q.jobs[job.ID] = &job
	q.order = append(q.order, job.ID)
	return job.ID, nil
}

// Claim activates the oldest waiting job.
func (q *Queue) Claim(ctx context.Context) (harvest.BatchJob, bool, error) {
	if err := ctx.Err(); err != nil {
		return harvest.BatchJob{}, false, fmt.Errorf("claim canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return harvest.BatchJob{}, false, harvest.ErrQueueClosed
	}
	for _, id := range q.order {
		job := q.jobs[id]
		if job.State != harvest.JobStateWaiting {
			continue
		}
		job.State = harvest.JobStateActive
		job.Attempt++
		return *job, true, nil
	}
	return harvest.BatchJob{}, false, nil
}

// Complete marks an active job completed.
func (q *Queue) Complete(_ context.Context, jobID string) error {
	return q.finish(jobID, harvest.JobStateCompleted, "")
}

// Fail marks an active job failed with reason.
func (q *Queue) Fail(_ context.Context, jobID string, reason string) error {
	return q.finish(jobID, harvest.JobStateFailed, reason)
}

func (q *Queue) finish(jobID string, state harvest.JobState, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return harvest.ErrQueueClosed
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, harvest.ErrNotFound)
	}
	if job.State != harvest.JobStateActive {
		return fmt.Errorf("job %s is %s: %w", jobID, job.State, harvest.ErrInvalidTransition)
	}
	job.State = state
	job.Reason = reason
	return nil
}

// Depth counts jobs per state.
func (q *Queue) Depth(_ context.Context) (harvest.QueueDepth, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return harvest.QueueDepth{}, harvest.ErrQueueClosed
	}
	var d harvest.QueueDepth
	for _, job := range q.jobs {
		switch job.State {
		case harvest.JobStateWaiting:
			d.Waiting++
		case harvest.JobStateActive:
			d.Active++
		case harvest.JobStateDelayed:
			d.Delayed++
		case harvest.JobStateCompleted:
			d.Completed++
		case harvest.JobStateFailed:
			d.Failed++
		}
	}
	return d, nil
}

// Job returns a snapshot of a job.
func (q *Queue) Job(jobID string) (harvest.BatchJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return harvest.BatchJob{}, false
	}
	return *job, true
}

// PurgeAll drops every job.
func (q *Queue) PurgeAll(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, harvest.ErrQueueClosed
	}
	n := len(q.jobs)
	q.jobs = make(map[string]*harvest.BatchJob)
	q.order = nil
	return n, nil
}

// Close rejects further operations. Closing twice is a no-op.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
