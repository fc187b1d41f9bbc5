package harvest

import (
	"context"
	"io"
	"time"
)

// RunStateStore persists the timestamp of the last run start.
type RunStateStore interface {
	// LastRunStartedAt returns the stored timestamp, or ok=false when no run has started yet.
	LastRunStartedAt(ctx context.Context) (t time.Time, ok bool, err error)
	// MarkRunStarted records a run start. Stores reject timestamps older than the stored one
	// with ErrStaleRunState.
	MarkRunStarted(ctx context.Context, at time.Time) error
}

// Queue is a durable FIFO hand-off of BatchJobs with at-least-once delivery.
type Queue interface {
	Enqueue(ctx context.Context, job BatchJob) (string, error)
	// Claim moves the oldest waiting job to active. ok is false when nothing is waiting.
	Claim(ctx context.Context) (job BatchJob, ok bool, err error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, reason string) error
	Depth(ctx context.Context) (QueueDepth, error)
	// PurgeAll discards jobs in every state and returns how many were removed.
	PurgeAll(ctx context.Context) (int, error)
	Close() error
}

// RosterProvider lists the profiles to harvest.
type RosterProvider interface {
	ListTargets(ctx context.Context) ([]ProfileTarget, error)
}

// Harvester runs one isolated harvesting unit for a target. Implementations never return
// errors; every failure mode is reported through the ProcessResult.
type Harvester interface {
	Harvest(ctx context.Context, target ProfileTarget, timeout time.Duration) ProcessResult
}

// BlobStore archives captured process output.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes batch notifications downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
