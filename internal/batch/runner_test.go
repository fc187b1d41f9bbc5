package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
	pubmemory "github.com/JakeFAU/scholar-harvester/internal/publisher/memory"
	"github.com/JakeFAU/scholar-harvester/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeRoster struct {
	targets []harvest.ProfileTarget
	err     error
}

func (r fakeRoster) ListTargets(context.Context) ([]harvest.ProfileTarget, error) {
	return r.targets, r.err
}

// fakeHarvester scripts outcomes per identity key and records invocations.
type fakeHarvester struct {
	mu        sync.Mutex
	outcomes  map[string]harvest.Outcome
	panics    map[string]bool
	delay     time.Duration
	calls     []string
	timeouts  []time.Duration
	active    int
	maxActive int
}

func (h *fakeHarvester) Harvest(_ context.Context, target harvest.ProfileTarget, timeout time.Duration) harvest.ProcessResult {
	h.mu.Lock()
	h.calls = append(h.calls, target.IdentityKey)
	h.timeouts = append(h.timeouts, timeout)
	h.active++
	if h.active > h.maxActive {
		h.maxActive = h.active
	}
	outcome, ok := h.outcomes[target.IdentityKey]
	shouldPanic := h.panics[target.IdentityKey]
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.active--
		h.mu.Unlock()
	}()
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if shouldPanic {
		panic("agent wrapper exploded")
	}
	if !ok {
		outcome = harvest.OutcomeSucceeded
	}
	res := harvest.ProcessResult{Outcome: outcome, ExitCode: 0, Duration: time.Millisecond}
	if outcome != harvest.OutcomeSucceeded {
		res.ExitCode = harvest.ExitCodeNone
		res.Stderr = "trace for " + target.IdentityKey
		res.Err = string(outcome)
	}
	return res
}

type fakeSync struct {
	mu      sync.Mutex
	calls   int
	command string
	outcome harvest.Outcome
}

func (s *fakeSync) Run(_ context.Context, _ string, command string, _ []string, _ time.Duration) harvest.ProcessResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.command = command
	outcome := s.outcome
	if outcome == "" {
		outcome = harvest.OutcomeSucceeded
	}
	return harvest.ProcessResult{Outcome: outcome}
}

type failingRunState struct{ calls int }

func (f *failingRunState) LastRunStartedAt(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("store down")
}

func (f *failingRunState) MarkRunStarted(context.Context, time.Time) error {
	f.calls++
	return errors.New("store down")
}

func targets(keys ...string) []harvest.ProfileTarget {
	out := make([]harvest.ProfileTarget, 0, len(keys))
	for _, k := range keys {
		out = append(out, harvest.ProfileTarget{IdentityKey: k, SourceURL: "https://scholar.example.org/" + k})
	}
	return out
}

type fixture struct {
	runState  *memory.RunStateStore
	harvester *fakeHarvester
	sync      *fakeSync
	archive   *memory.BlobStore
	publisher *pubmemory.Publisher
	clock     *fakeClock
}

func newFixture() *fixture {
	return &fixture{
		runState:  memory.NewRunStateStore(),
		harvester: &fakeHarvester{outcomes: map[string]harvest.Outcome{}, panics: map[string]bool{}},
		sync:      &fakeSync{},
		archive:   memory.NewBlobStore(),
		publisher: pubmemory.New(),
		clock:     &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func (f *fixture) runner(t *testing.T, roster harvest.RosterProvider, cfg Config) *Runner {
	t.Helper()
	if cfg.SyncCommand == "" {
		cfg.SyncCommand = "sync-agent"
	}
	r, err := New(Deps{
		RunState:  f.runState,
		Roster:    roster,
		Harvester: f.harvester,
		Sync:      f.sync,
		Archive:   f.archive,
		Publisher: f.publisher,
		Clock:     f.clock,
	}, cfg, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestRunBatchIsolatesTargetFailures(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.harvester.outcomes["b"] = harvest.OutcomeFailed
	f.harvester.outcomes["c"] = harvest.OutcomeTimedOut
	f.harvester.outcomes["d"] = harvest.OutcomeSpawnFailed
	f.harvester.panics["e"] = true
	r := f.runner(t, fakeRoster{targets: targets("a", "b", "c", "d", "e", "f")}, Config{TargetTimeout: 30 * time.Minute})

	summary, err := r.RunBatch(context.Background(), harvest.BatchJob{ID: "job-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, f.harvester.calls)
	for _, timeout := range f.harvester.timeouts {
		assert.Equal(t, 30*time.Minute, timeout)
	}
	require.Len(t, summary.Results, 6)
	wantOutcomes := []harvest.Outcome{
		harvest.OutcomeSucceeded, harvest.OutcomeFailed, harvest.OutcomeTimedOut,
		harvest.OutcomeSpawnFailed, harvest.OutcomeFailed, harvest.OutcomeSucceeded,
	}
	for i, res := range summary.Results {
		assert.Equal(t, wantOutcomes[i], res.Outcome, "target %d", i)
		assert.Equal(t, targets("a", "b", "c", "d", "e", "f")[i], res.Target)
	}
	assert.Contains(t, summary.Results[4].Err, "harvester panic")

	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.TimedOut)
	assert.Equal(t, 1, summary.SpawnFailed)
	assert.Equal(t, harvest.OutcomeSucceeded, summary.SyncOutcome)
	assert.Equal(t, 1, f.sync.calls)
	assert.Equal(t, "sync-agent", f.sync.command)

	started, ok, err := f.runState.LastRunStartedAt(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, started.Equal(summary.StartedAt))
	assert.True(t, summary.FinishedAt.After(summary.StartedAt))

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventBatchFinished, msgs[0].Topic)
	assert.Equal(t, "job-1", msgs[0].Payload.(harvest.BatchSummary).JobID)
}

func TestRunBatchSkipsTargetsWithoutSourceURL(t *testing.T) {
	t.Parallel()

	f := newFixture()
	roster := fakeRoster{targets: []harvest.ProfileTarget{
		{IdentityKey: "a", SourceURL: "https://scholar.example.org/a"},
		{IdentityKey: "nourl"},
		{IdentityKey: "b", SourceURL: "https://scholar.example.org/b"},
	}}
	r := f.runner(t, roster, Config{})

	summary, err := r.RunBatch(context.Background(), harvest.BatchJob{ID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, f.harvester.calls)
	assert.Equal(t, harvest.OutcomeSkipped, summary.Results[1].Outcome)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Succeeded)
}

func TestRunBatchRosterFailureFailsJob(t *testing.T) {
	t.Parallel()

	f := newFixture()
	r := f.runner(t, fakeRoster{err: errors.New("db offline")}, Config{})

	_, err := r.RunBatch(context.Background(), harvest.BatchJob{ID: "job-1"})
	require.ErrorContains(t, err, "fetch roster")
	assert.Empty(t, f.harvester.calls)
	assert.Zero(t, f.sync.calls)
	assert.Empty(t, f.publisher.Messages())

	_, ok, err := f.runState.LastRunStartedAt(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "run start is recorded before the roster fetch")
}

func TestRunBatchContinuesWhenRunStateWriteFails(t *testing.T) {
	t.Parallel()

	f := newFixture()
	store := &failingRunState{}
	r, err := New(Deps{
		RunState:  store,
		Roster:    fakeRoster{targets: targets("a")},
		Harvester: f.harvester,
		Clock:     f.clock,
	}, Config{}, zap.NewNop())
	require.NoError(t, err)

	summary, err := r.RunBatch(context.Background(), harvest.BatchJob{ID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, summary.SyncOutcome)
}

func TestRunBatchSyncFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.sync.outcome = harvest.OutcomeTimedOut
	f.publisher.FailNext(errors.New("pubsub down"))
	r := f.runner(t, fakeRoster{targets: targets("a")}, Config{})

	summary, err := r.RunBatch(context.Background(), harvest.BatchJob{ID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, harvest.OutcomeTimedOut, summary.SyncOutcome)
	assert.Empty(t, f.publisher.Messages())
}

func TestRunBatchRespectsConcurrencyBound(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.harvester.delay = 20 * time.Millisecond
	r := f.runner(t, fakeRoster{targets: targets("a", "b", "c", "d", "e", "f")}, Config{Concurrency: 2})

	summary, err := r.RunBatch(context.Background(), harvest.BatchJob{ID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Succeeded)
	assert.LessOrEqual(t, f.harvester.maxActive, 2)

	calls := append([]string(nil), f.harvester.calls...)
	sort.Strings(calls)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, calls)
}

func TestRunBatchDefaultsToSequential(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.harvester.delay = 5 * time.Millisecond
	r := f.runner(t, fakeRoster{targets: targets("a", "b", "c")}, Config{})

	_, err := r.RunBatch(context.Background(), harvest.BatchJob{ID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.harvester.maxActive)
}

func TestRunBatchArchivesFailedCaptures(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.harvester.outcomes["ada/lovelace"] = harvest.OutcomeFailed
	roster := fakeRoster{targets: []harvest.ProfileTarget{
		{IdentityKey: "ada/lovelace", SourceURL: "https://scholar.example.org/ada"},
		{IdentityKey: "grace", SourceURL: "https://scholar.example.org/grace"},
	}}
	r := f.runner(t, roster, Config{ArchivePrefix: "captures"})

	_, err := r.RunBatch(context.Background(), harvest.BatchJob{ID: "job-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"captures/job-1/ada_lovelace.stderr.log"}, f.archive.Paths())
	body, ok := f.archive.Object("captures/job-1/ada_lovelace.stderr.log")
	require.True(t, ok)
	assert.Equal(t, "trace for ada/lovelace", string(body))
}

func TestHandlerAcksWithRosterError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	r := f.runner(t, fakeRoster{err: errors.New("db offline")}, Config{})

	var acked error
	ackCalls := 0
	err := r.Handler()(context.Background(), harvest.BatchJob{ID: "job-1"}, func(err error) {
		ackCalls++
		acked = err
	})
	require.NoError(t, err)
	require.Equal(t, 1, ackCalls)
	require.ErrorContains(t, acked, "db offline")
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	f := newFixture()
	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)

	_, err = New(Deps{
		RunState:  f.runState,
		Roster:    fakeRoster{},
		Harvester: f.harvester,
		Clock:     f.clock,
	}, Config{SyncCommand: "sync"}, nil)
	require.ErrorContains(t, err, "sync runner")
}

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
	deny map[string]bool
}

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, rawURL)
	if l.deny[rawURL] {
		return context.Canceled
	}
	return nil
}

func TestRunBatchWaitsOnLaunchLimiter(t *testing.T) {
	t.Parallel()

	f := newFixture()
	limiter := &recordingLimiter{deny: map[string]bool{"https://scholar.example.org/b": true}}
	r, err := New(Deps{
		RunState:  f.runState,
		Roster:    fakeRoster{targets: targets("a", "b", "c")},
		Harvester: f.harvester,
		Limiter:   limiter,
		Clock:     f.clock,
	}, Config{}, zap.NewNop())
	require.NoError(t, err)

	summary, err := r.RunBatch(context.Background(), harvest.BatchJob{ID: "job-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://scholar.example.org/a",
		"https://scholar.example.org/b",
		"https://scholar.example.org/c",
	}, limiter.urls)
	assert.Equal(t, []string{"a", "c"}, f.harvester.calls)
	assert.Equal(t, harvest.OutcomeFailed, summary.Results[1].Outcome)
	assert.Contains(t, summary.Results[1].Err, "launch canceled")
	assert.Equal(t, 2, summary.Succeeded)
}
