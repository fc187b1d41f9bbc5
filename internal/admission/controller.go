// Package admission decides when a new harvesting batch may be enqueued.
//
// A batch is admitted when at least MinInterval has elapsed since the last recorded run
// start and no job is waiting or active. The run start itself is written by the batch
// runner, so a job that sits in the queue does not push the next window forward.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
	"github.com/JakeFAU/scholar-harvester/internal/metrics"
)

// Decision is the outcome of one admission check.
type Decision string

// Admission decisions.
const (
	DecisionEnqueued           Decision = "enqueued"
	DecisionIntervalNotElapsed Decision = "interval_not_elapsed"
	DecisionJobInFlight        Decision = "job_in_flight"
	DecisionStoreUnavailable   Decision = "store_unavailable"
)

// Config controls admission.
type Config struct {
	MinInterval time.Duration
}

// Status is a point-in-time view of the schedule.
type Status struct {
	LastRunStartedAt     *time.Time         `json:"last_run_started_at,omitempty"`
	NextEligibleAt       *time.Time         `json:"next_eligible_at,omitempty"`
	TimeRemaining        time.Duration      `json:"-"`
	TimeRemainingSeconds float64            `json:"time_remaining_seconds"`
	Depth                harvest.QueueDepth `json:"queue"`
}

// Controller admits batches. Checks within one process are serialized so a scheduled
// check and a manual trigger cannot both pass the in-flight test.
type Controller struct {
	runState harvest.RunStateStore
	queue    harvest.Queue
	ids      harvest.IDGenerator
	clock    harvest.Clock
	cfg      Config
	logger   *zap.Logger

	mu sync.Mutex
}

// New constructs a Controller.
func New(
	runState harvest.RunStateStore,
	queue harvest.Queue,
	ids harvest.IDGenerator,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Controller, error) {
	switch {
	case runState == nil:
		return nil, fmt.Errorf("run state store is required")
	case queue == nil:
		return nil, fmt.Errorf("queue is required")
	case ids == nil:
		return nil, fmt.Errorf("id generator is required")
	case clock == nil:
		return nil, fmt.Errorf("clock is required")
	case cfg.MinInterval <= 0:
		return nil, fmt.Errorf("min interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		runState: runState,
		queue:    queue,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("admission"),
	}, nil
}

// MaybeSchedule runs one admission check. Failures of the stores are logged and reported
// as DecisionStoreUnavailable; the next check simply tries again.
func (c *Controller) MaybeSchedule(ctx context.Context) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining, err := c.timeRemaining(ctx)
	if err != nil {
		return c.decide(DecisionStoreUnavailable, zap.Error(err))
	}
	if remaining > 0 {
		return c.decide(DecisionIntervalNotElapsed, zap.Duration("time_remaining", remaining))
	}
	decision, _ := c.enqueueIfIdle(ctx, harvest.SourceScheduled)
	return decision
}

// Trigger enqueues a batch regardless of the interval, still refusing when a job is in
// flight. The job ID is empty unless the decision is DecisionEnqueued.
func (c *Controller) Trigger(ctx context.Context) (Decision, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueIfIdle(ctx, harvest.SourceManual)
}

// TimeRemaining reports how long until the interval elapses; zero when eligible.
func (c *Controller) TimeRemaining(ctx context.Context) (time.Duration, error) {
	return c.timeRemaining(ctx)
}

// Status reports the last run start, the time remaining and the queue depth.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	last, ok, err := c.runState.LastRunStartedAt(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read run state: %w", err)
	}
	depth, err := c.queue.Depth(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read queue depth: %w", err)
	}
	st := Status{Depth: depth}
	if ok {
		next := last.Add(c.cfg.MinInterval)
		st.LastRunStartedAt = &last
		st.NextEligibleAt = &next
		st.TimeRemaining = remainingAt(c.clock.Now(), last, c.cfg.MinInterval)
		st.TimeRemainingSeconds = st.TimeRemaining.Seconds()
	}
	return st, nil
}

// LogStatus writes the current status to the log.
func (c *Controller) LogStatus(ctx context.Context) {
	st, err := c.Status(ctx)
	if err != nil {
		c.logger.Warn("status unavailable", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.Duration("time_remaining", st.TimeRemaining),
		zap.Int("waiting", st.Depth.Waiting),
		zap.Int("active", st.Depth.Active),
	}
	if st.LastRunStartedAt != nil {
		fields = append(fields, zap.Time("last_run_started_at", *st.LastRunStartedAt))
	}
	c.logger.Info("schedule status", fields...)
}

func (c *Controller) timeRemaining(ctx context.Context) (time.Duration, error) {
	last, ok, err := c.runState.LastRunStartedAt(ctx)
	if err != nil {
		return 0, fmt.Errorf("read run state: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return remainingAt(c.clock.Now(), last, c.cfg.MinInterval), nil
}

func remainingAt(now, last time.Time, interval time.Duration) time.Duration {
	if remaining := interval - now.Sub(last); remaining > 0 {
		return remaining
	}
	return 0
}

// enqueueIfIdle must be called with c.mu held.
func (c *Controller) enqueueIfIdle(ctx context.Context, source string) (Decision, string) {
	depth, err := c.queue.Depth(ctx)
	if err != nil {
		return c.decide(DecisionStoreUnavailable, zap.Error(fmt.Errorf("read queue depth: %w", err))), ""
	}
	if n := depth.InFlight(); n > 0 {
		return c.decide(DecisionJobInFlight, zap.Int("waiting", depth.Waiting), zap.Int("active", depth.Active)), ""
	}
	id, err := c.ids.NewID()
	if err != nil {
		return c.decide(DecisionStoreUnavailable, zap.Error(err)), ""
	}
	job := harvest.BatchJob{
		ID:         id,
		EnqueuedAt: c.clock.Now(),
		State:      harvest.JobStateWaiting,
		Source:     source,
	}
	if _, err := c.queue.Enqueue(ctx, job); err != nil {
		return c.decide(DecisionStoreUnavailable, zap.Error(fmt.Errorf("enqueue job: %w", err))), ""
	}
	return c.decide(DecisionEnqueued, zap.String("job_id", id), zap.String("source", source)), id
}

func (c *Controller) decide(d Decision, fields ...zap.Field) Decision {
	metrics.ObserveAdmission(string(d))
	fields = append(fields, zap.String("decision", string(d)))
	switch d {
	case DecisionEnqueued:
		c.logger.Info("batch enqueued", fields...)
	case DecisionStoreUnavailable:
		c.logger.Error("admission check skipped", fields...)
	default:
		c.logger.Debug("batch not admitted", fields...)
	}
	return d
}
