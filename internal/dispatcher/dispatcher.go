// Package dispatcher consumes BatchJobs from the queue, one at a time, and hands them to a
// single registered handler.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

// ErrAlreadyConsuming is returned when a second handler is registered.
var ErrAlreadyConsuming = errors.New("dispatcher already has a handler")

// Ack settles the claimed job. A nil error completes it; a non-nil error fails it.
// Only the first call has an effect.
type Ack func(err error)

// Handler processes one claimed job. Returning an error (or panicking) fails the job
// unless it was already acknowledged; returning nil without acknowledging completes it.
type Handler func(ctx context.Context, job harvest.BatchJob, ack Ack) error

// Config controls polling.
type Config struct {
	PollInterval time.Duration
}

// Dispatcher polls the queue with concurrency 1. Jobs are never retried.
type Dispatcher struct {
	queue  harvest.Queue
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	consuming bool
}

// New creates a Dispatcher.
func New(queue harvest.Queue, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:  queue,
		cfg:    cfg,
		logger: logger.Named("dispatcher"),
	}
}

// Consume registers h and blocks, processing jobs until ctx is canceled.
func (d *Dispatcher) Consume(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	d.mu.Lock()
	if d.consuming {
		d.mu.Unlock()
		return ErrAlreadyConsuming
	}
	d.consuming = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.consuming = false
		d.mu.Unlock()
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		job, ok, err := d.queue.Claim(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, harvest.ErrQueueClosed) {
				return err
			}
			d.logger.Error("queue claim failed", zap.Error(err))
			timer.Reset(d.cfg.PollInterval)
		case ok:
			d.process(ctx, job, h)
			timer.Reset(0)
		default:
			timer.Reset(d.cfg.PollInterval)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, job harvest.BatchJob, h Handler) {
	logger := d.logger.With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	logger.Info("job claimed", zap.String("source", job.Source))

	// Settlement must outlive a shutdown that cancels ctx mid-batch.
	settleCtx := context.WithoutCancel(ctx)
	var once sync.Once
	acked := false
	ack := func(err error) {
		once.Do(func() {
			acked = true
			d.settle(settleCtx, logger, job.ID, err)
		})
	}

	err := d.invoke(ctx, job, h, ack)
	if err != nil && acked {
		logger.Warn("handler error after acknowledgement", zap.Error(err))
	}
	ack(err)
}

func (d *Dispatcher) invoke(ctx context.Context, job harvest.BatchJob, h Handler, ack Ack) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job, ack)
}

func (d *Dispatcher) settle(ctx context.Context, logger *zap.Logger, jobID string, cause error) {
	if cause == nil {
		if err := d.queue.Complete(ctx, jobID); err != nil {
			logger.Error("complete job failed", zap.Error(err))
			return
		}
		logger.Info("job completed")
		return
	}
	if err := d.queue.Fail(ctx, jobID, cause.Error()); err != nil {
		logger.Error("fail job failed", zap.Error(err))
		return
	}
	logger.Warn("job failed", zap.Error(cause))
}
