// Package batch executes one harvesting pass: mark the run start, harvest every roster
// target in isolation, run the downstream sync and report the outcome.
package batch

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/scholar-harvester/internal/dispatcher"
	"github.com/JakeFAU/scholar-harvester/internal/harvest"
	"github.com/JakeFAU/scholar-harvester/internal/metrics"
)

// EventBatchFinished is the notification published after every batch.
const EventBatchFinished = "batch.finished"

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// CommandRunner runs an arbitrary supervised command. supervisor.Supervisor satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, name, command string, args []string, timeout time.Duration) harvest.ProcessResult
}

// LaunchLimiter paces agent launches. ratelimit.Limiter satisfies it.
type LaunchLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls batch execution.
type Config struct {
	TargetTimeout time.Duration
	// Concurrency bounds how many targets are harvested at once.
	Concurrency int
	SyncCommand string
	SyncArgs    []string
	SyncTimeout time.Duration
	// ArchivePrefix is prepended to archived capture paths.
	ArchivePrefix string
}

// Deps are the collaborators of a Runner. Archive, Publisher and Limiter are optional.
type Deps struct {
	RunState  harvest.RunStateStore
	Roster    harvest.RosterProvider
	Harvester harvest.Harvester
	Sync      CommandRunner
	Archive   harvest.BlobStore
	Publisher harvest.Publisher
	Limiter   LaunchLimiter
	Clock     harvest.Clock
}

// Runner executes batches.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	switch {
	case deps.RunState == nil:
		return nil, fmt.Errorf("run state store is required")
	case deps.Roster == nil:
		return nil, fmt.Errorf("roster provider is required")
	case deps.Harvester == nil:
		return nil, fmt.Errorf("harvester is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case cfg.SyncCommand != "" && deps.Sync == nil:
		return nil, fmt.Errorf("sync runner is required when a sync command is configured")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger.Named("batch")}, nil
}

// Handler adapts the runner to the dispatcher. The job fails only when the roster
// cannot be fetched.
func (r *Runner) Handler() dispatcher.Handler {
	return func(ctx context.Context, job harvest.BatchJob, ack dispatcher.Ack) error {
		_, err := r.RunBatch(ctx, job)
		ack(err)
		return nil
	}
}

// RunBatch runs one pass for job. Individual target failures, sync failures and
// notification failures are reported in the summary and logs, never as an error.
func (r *Runner) RunBatch(ctx context.Context, job harvest.BatchJob) (harvest.BatchSummary, error) {
	logger := r.logger.With(zap.String("job_id", job.ID))
	started := r.deps.Clock.Now()
	summary := harvest.BatchSummary{JobID: job.ID, StartedAt: started}

	if err := r.deps.RunState.MarkRunStarted(ctx, started); err != nil {
		logger.Error("failed to record run start", zap.Error(err))
	}
	metrics.BatchStarted(started)

	targets, err := r.deps.Roster.ListTargets(ctx)
	if err != nil {
		metrics.BatchFinished(string(harvest.JobStateFailed))
		logger.Error("failed to fetch roster", zap.Error(err))
		return summary, fmt.Errorf("fetch roster: %w", err)
	}
	logger.Info("batch started", zap.Int("targets", len(targets)), zap.Int("concurrency", r.cfg.Concurrency))

	summary.Results = r.harvestAll(ctx, logger, targets)
	for _, res := range summary.Results {
		summary.Add(res)
	}
	logger.Info("harvest pass finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("timed_out", summary.TimedOut),
		zap.Int("spawn_failed", summary.SpawnFailed),
		zap.Int("skipped", summary.Skipped),
	)
	r.reportFailures(ctx, logger, job.ID, summary.Results)

	summary.SyncOutcome = r.runSync(ctx, logger)
	summary.FinishedAt = r.deps.Clock.Now()
	r.notify(ctx, logger, summary)

	metrics.BatchFinished(string(harvest.JobStateCompleted))
	logger.Info("batch finished", zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, nil
}

// harvestAll runs every target, storing each result at its roster index.
func (r *Runner) harvestAll(ctx context.Context, logger *zap.Logger, targets []harvest.ProfileTarget) []harvest.ProcessResult {
	results := make([]harvest.ProcessResult, len(targets))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, target := range targets {
		if strings.TrimSpace(target.SourceURL) == "" {
			logger.Warn("skipping target without source url", zap.String("identity_key", target.IdentityKey))
			results[i] = harvest.ProcessResult{
				Target:   target,
				Outcome:  harvest.OutcomeSkipped,
				ExitCode: harvest.ExitCodeNone,
				Err:      "no source url",
			}
			metrics.ObserveTarget(string(harvest.OutcomeSkipped), 0)
			continue
		}
		g.Go(func() error {
			results[i] = r.harvestOne(ctx, logger, target)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) harvestOne(ctx context.Context, logger *zap.Logger, target harvest.ProfileTarget) (res harvest.ProcessResult) {
	logger = logger.With(zap.String("identity_key", target.IdentityKey), zap.String("source_url", target.SourceURL))
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = harvest.ProcessResult{
				Target:   target,
				Outcome:  harvest.OutcomeFailed,
				ExitCode: harvest.ExitCodeNone,
				Duration: time.Since(start),
				Err:      fmt.Sprintf("harvester panic: %v", p),
			}
		}
		metrics.ObserveTarget(string(res.Outcome), res.Duration)
		logger.Info("target finished", zap.String("outcome", string(res.Outcome)), zap.Duration("duration", res.Duration))
	}()

	if r.deps.Limiter != nil {
		if err := r.deps.Limiter.Wait(ctx, target.SourceURL); err != nil {
			return harvest.ProcessResult{
				Target:   target,
				Outcome:  harvest.OutcomeFailed,
				ExitCode: harvest.ExitCodeNone,
				Duration: time.Since(start),
				Err:      fmt.Sprintf("launch canceled: %v", err),
			}
		}
	}
	logger.Debug("harvesting target")
	res = r.deps.Harvester.Harvest(ctx, target, r.cfg.TargetTimeout)
	res.Target = target
	return res
}

// reportFailures logs the captured output of unsuccessful targets and archives it when
// an archive is configured.
func (r *Runner) reportFailures(ctx context.Context, logger *zap.Logger, jobID string, results []harvest.ProcessResult) {
	for _, res := range results {
		if res.Succeeded() || res.Outcome == harvest.OutcomeSkipped {
			continue
		}
		logger.Warn("target unsuccessful",
			zap.String("identity_key", res.Target.IdentityKey),
			zap.String("outcome", string(res.Outcome)),
			zap.Int("exit_code", res.ExitCode),
			zap.String("error", res.Err),
			zap.String("stdout", res.Stdout),
			zap.String("stderr", res.Stderr),
		)
		if r.deps.Archive == nil {
			continue
		}
		base := path.Join(r.cfg.ArchivePrefix, jobID, unsafePathChars.ReplaceAllString(res.Target.IdentityKey, "_"))
		for suffix, body := range map[string]string{".stdout.log": res.Stdout, ".stderr.log": res.Stderr} {
			if body == "" {
				continue
			}
			uri, err := r.deps.Archive.PutObject(ctx, base+suffix, "text/plain; charset=utf-8", strings.NewReader(body))
			if err != nil {
				logger.Warn("failed to archive capture", zap.String("identity_key", res.Target.IdentityKey), zap.Error(err))
				continue
			}
			logger.Debug("archived capture", zap.String("uri", uri))
		}
	}
}

func (r *Runner) runSync(ctx context.Context, logger *zap.Logger) harvest.Outcome {
	if r.cfg.SyncCommand == "" {
		logger.Debug("sync disabled")
		return ""
	}
	res := r.deps.Sync.Run(ctx, "sync", r.cfg.SyncCommand, r.cfg.SyncArgs, r.cfg.SyncTimeout)
	metrics.ObserveSync(string(res.Outcome))
	if !res.Succeeded() {
		logger.Error("sync failed",
			zap.String("outcome", string(res.Outcome)),
			zap.String("error", res.Err),
			zap.String("stderr", res.Stderr),
		)
		return res.Outcome
	}
	logger.Info("sync finished", zap.Duration("duration", res.Duration))
	return res.Outcome
}

func (r *Runner) notify(ctx context.Context, logger *zap.Logger, summary harvest.BatchSummary) {
	if r.deps.Publisher == nil {
		return
	}
	id, err := r.deps.Publisher.Publish(ctx, EventBatchFinished, summary)
	if err != nil {
		logger.Warn("failed to publish batch summary", zap.Error(err))
		return
	}
	logger.Debug("published batch summary", zap.String("message_id", id))
}
