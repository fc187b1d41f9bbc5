package server

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-harvester/internal/admission"
	"github.com/JakeFAU/scholar-harvester/internal/config"
)

// scheduleChecker is the part of the admission controller driven by the timers.
type scheduleChecker interface {
	MaybeSchedule(ctx context.Context) admission.Decision
	LogStatus(ctx context.Context)
}

// timers fires the admission check and the status log on fixed intervals. A tick that
// lands while the previous one still runs is skipped.
type timers struct {
	cron    *cron.Cron
	checker scheduleChecker
	cfg     config.ScheduleConfig
	logger  *zap.Logger
}

func newTimers(checker scheduleChecker, cfg config.ScheduleConfig, logger *zap.Logger) (*timers, error) {
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("schedule.check_interval must be > 0")
	}
	cl := cronLogger{logger: logger.Named("timers")}
	return &timers{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		checker: checker,
		cfg:     cfg,
		logger:  logger.Named("timers"),
	}, nil
}

// Start registers the entries and starts the scheduler. ctx is handed to every tick.
func (t *timers) Start(ctx context.Context) error {
	if _, err := t.cron.AddFunc(every(t.cfg.CheckInterval), func() {
		t.checker.MaybeSchedule(ctx)
	}); err != nil {
		return fmt.Errorf("register admission timer: %w", err)
	}
	if t.cfg.StatusInterval > 0 {
		if _, err := t.cron.AddFunc(every(t.cfg.StatusInterval), func() {
			t.checker.LogStatus(ctx)
		}); err != nil {
			return fmt.Errorf("register status timer: %w", err)
		}
	}
	t.cron.Start()
	t.logger.Info("timers started",
		zap.Duration("check_interval", t.cfg.CheckInterval),
		zap.Duration("status_interval", t.cfg.StatusInterval),
	)
	return nil
}

// Stop halts the scheduler and waits for running ticks until ctx expires.
func (t *timers) Stop(ctx context.Context) {
	done := t.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		t.logger.Warn("timer tick still running at shutdown")
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
