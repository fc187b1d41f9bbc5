package harvest

import "time"

// JobState represents the lifecycle state of a BatchJob inside the queue.
type JobState string

// Queue states. Only waiting and active count as in flight.
const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job sources recorded on each BatchJob.
const (
	SourceScheduled = "scheduled"
	SourceManual    = "manual"
)

// BatchJob is one scheduled execution of the full harvesting pass.
type BatchJob struct {
	ID         string    `json:"id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempt    int       `json:"attempt"`
	State      JobState  `json:"state"`
	Source     string    `json:"source,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// QueueDepth reports how many jobs sit in each queue state.
type QueueDepth struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// InFlight is the number of jobs that block a new admission.
func (d QueueDepth) InFlight() int {
	return d.Waiting + d.Active
}

// Total is the number of jobs across every state.
func (d QueueDepth) Total() int {
	return d.Waiting + d.Active + d.Delayed + d.Completed + d.Failed
}

// RunState is the persisted scheduling state.
type RunState struct {
	LastRunStartedAt *time.Time `json:"last_run_started_at,omitempty"`
}

// ProfileTarget is one external profile harvested on every pass.
type ProfileTarget struct {
	IdentityKey string `json:"identity_key" yaml:"identity_key"`
	SourceURL   string `json:"source_url" yaml:"source_url"`
}

// Outcome classifies how a supervised process ended.
type Outcome string

// Process outcomes. TimedOut is distinct from Failed so diagnostics can tell a hung
// agent apart from one that exited nonzero.
const (
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeFailed      Outcome = "failed"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeSpawnFailed Outcome = "spawn_failed"
	OutcomeSkipped     Outcome = "skipped"
)

// ExitCodeNone is reported when the process never exited on its own.
const ExitCodeNone = -1

// ProcessResult is produced for every target on every pass.
type ProcessResult struct {
	Target   ProfileTarget `json:"target"`
	Outcome  Outcome       `json:"outcome"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Succeeded reports whether the process exited cleanly.
func (r ProcessResult) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}

// BatchSummary aggregates the results of one pass.
type BatchSummary struct {
	JobID       string    `json:"job_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	TimedOut    int       `json:"timed_out"`
	SpawnFailed int       `json:"spawn_failed"`
	Skipped     int       `json:"skipped"`
	SyncOutcome Outcome   `json:"sync_outcome,omitempty"`

	// Results holds one entry per roster target, in roster order.
	Results []ProcessResult `json:"-"`
}

// Add folds a single result into the summary counters.
func (s *BatchSummary) Add(r ProcessResult) {
	s.Total++
	switch r.Outcome {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeTimedOut:
		s.TimedOut++
	case OutcomeSpawnFailed:
		s.SpawnFailed++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// Unsuccessful counts targets that were attempted and did not succeed.
func (s BatchSummary) Unsuccessful() int {
	return s.Failed + s.TimedOut + s.SpawnFailed
}
