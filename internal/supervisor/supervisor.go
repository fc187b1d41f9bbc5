// Package supervisor runs harvesting agents as isolated subprocesses with a wall-clock
// timeout, capturing their output.
//
// Each run streams stdout and stderr into private temp files so memory stays flat no
// matter how much the agent prints. Only the trailing MaxCaptureBytes of each stream is
// kept in the ProcessResult. The temp files are removed on every exit path.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

const truncatedMarker = "[truncated]\n"

// Config controls how subprocesses are launched.
type Config struct {
	// AgentCommand is the executable invoked once per target.
	AgentCommand string
	// AgentArgs precede the target's source URL on the command line.
	AgentArgs []string
	// KillGrace is how long a process may run after SIGTERM before it is killed.
	KillGrace time.Duration
	// MaxCaptureBytes bounds the captured tail of each output stream.
	MaxCaptureBytes int
	// TempDir holds the capture files; empty uses the OS default.
	TempDir string
	// Env holds KEY=VALUE pairs added to the inherited environment of every subprocess.
	Env []string
}

// Supervisor implements harvest.Harvester.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Supervisor.
func New(cfg Config, logger *zap.Logger) *Supervisor {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 10 * time.Second
	}
	if cfg.MaxCaptureBytes <= 0 {
		cfg.MaxCaptureBytes = 64 << 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.Named("supervisor"),
	}
}

// Harvest runs the agent for one target.
func (s *Supervisor) Harvest(ctx context.Context, target harvest.ProfileTarget, timeout time.Duration) harvest.ProcessResult {
	args := append(append([]string(nil), s.cfg.AgentArgs...), target.SourceURL)
	result := s.Run(ctx, target.IdentityKey, s.cfg.AgentCommand, args, timeout)
	result.Target = target
	return result
}

// Run executes command with args, enforcing timeout when positive. It never returns an
// error; failures are described by the result's Outcome and Err.
func (s *Supervisor) Run(ctx context.Context, name, command string, args []string, timeout time.Duration) harvest.ProcessResult {
	start := time.Now()
	logger := s.logger.With(zap.String("name", name), zap.String("command", command))
	result := harvest.ProcessResult{ExitCode: harvest.ExitCodeNone}
	finish := func(outcome harvest.Outcome, err error) harvest.ProcessResult {
		result.Outcome = outcome
		result.Duration = time.Since(start)
		if err != nil {
			result.Err = err.Error()
		}
		fields := []zap.Field{
			zap.String("outcome", string(outcome)),
			zap.Int("exit_code", result.ExitCode),
			zap.Duration("duration", result.Duration),
		}
		if outcome == harvest.OutcomeSucceeded {
			logger.Info("process finished", fields...)
		} else {
			logger.Warn("process finished", append(fields, zap.Error(err))...)
		}
		return result
	}

	if strings.TrimSpace(command) == "" {
		return finish(harvest.OutcomeSpawnFailed, errors.New("command is required"))
	}

	stdout, err := os.CreateTemp(s.cfg.TempDir, "harvest-*.stdout")
	if err != nil {
		return finish(harvest.OutcomeSpawnFailed, fmt.Errorf("create stdout capture: %w", err))
	}
	defer discard(stdout)
	stderr, err := os.CreateTemp(s.cfg.TempDir, "harvest-*.stderr")
	if err != nil {
		return finish(harvest.OutcomeSpawnFailed, fmt.Errorf("create stderr capture: %w", err))
	}
	defer discard(stderr)

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// #nosec G204 -- the agent command comes from operator configuration.
	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = s.cfg.KillGrace

	logger.Debug("starting process", zap.Strings("args", args), zap.Duration("timeout", timeout))
	if err := cmd.Start(); err != nil {
		return finish(harvest.OutcomeSpawnFailed, fmt.Errorf("start %s: %w", command, err))
	}
	waitErr := cmd.Wait()

	result.Stdout = s.tail(stdout)
	result.Stderr = s.tail(stderr)

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		result.ExitCode = 0
		return finish(harvest.OutcomeSucceeded, nil)
	case ctx.Err() != nil:
		return finish(harvest.OutcomeFailed, fmt.Errorf("canceled: %w", ctx.Err()))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return finish(harvest.OutcomeTimedOut, fmt.Errorf("exceeded timeout of %s", timeout))
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return finish(harvest.OutcomeFailed, fmt.Errorf("exit status %d", exitErr.ExitCode()))
	default:
		return finish(harvest.OutcomeFailed, waitErr)
	}
}

// tail returns the last MaxCaptureBytes written to f.
func (s *Supervisor) tail(f *os.File) string {
	info, err := f.Stat()
	if err != nil {
		s.logger.Warn("stat capture file", zap.String("path", f.Name()), zap.Error(err))
		return ""
	}
	size := info.Size()
	limit := int64(s.cfg.MaxCaptureBytes)
	offset := int64(0)
	if size > limit {
		offset = size - limit
	}
	buf, err := io.ReadAll(io.NewSectionReader(f, offset, size-offset))
	if err != nil {
		s.logger.Warn("read capture file", zap.String("path", f.Name()), zap.Error(err))
		return ""
	}
	if offset > 0 {
		return truncatedMarker + string(buf)
	}
	return string(buf)
}

func discard(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}
