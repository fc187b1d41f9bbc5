package harvest

import "errors"

var (
	// ErrNotFound is returned when a job or key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleRunState is returned when a run start would move RunState backwards.
	ErrStaleRunState = errors.New("run start precedes stored run start")
	// ErrQueueClosed is returned by queues after Close.
	ErrQueueClosed = errors.New("queue closed")
	// ErrInvalidTransition is returned when a job is acknowledged from a state that does not allow it.
	ErrInvalidTransition = errors.New("invalid job state transition")
)
