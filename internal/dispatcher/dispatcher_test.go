package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
	"github.com/JakeFAU/scholar-harvester/internal/queue/memory"
)

func enqueue(t *testing.T, q harvest.Queue, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := q.Enqueue(context.Background(), harvest.BatchJob{ID: id, EnqueuedAt: time.Now()})
		require.NoError(t, err)
	}
}

// runUntil consumes in the background and cancels once cond holds.
func runUntil(t *testing.T, d *Dispatcher, h Handler, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Consume(ctx, h) }()

	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func jobState(q *memory.Queue, id string) harvest.JobState {
	job, _ := q.Job(id)
	return job.State
}

func TestConsumeSettlesJobsByHandlerOutcome(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	enqueue(t, q, "explicit-ok", "explicit-fail", "returned-error", "implicit-ok", "panics")
	d := New(q, Config{PollInterval: 5 * time.Millisecond}, zap.NewNop())

	handler := func(_ context.Context, job harvest.BatchJob, ack Ack) error {
		switch job.ID {
		case "explicit-ok":
			ack(nil)
		case "explicit-fail":
			ack(errors.New("roster unavailable"))
		case "returned-error":
			return errors.New("boom")
		case "panics":
			panic("unexpected")
		}
		return nil
	}

	runUntil(t, d, handler, func() bool {
		depth, err := q.Depth(context.Background())
		return err == nil && depth.Completed+depth.Failed == 5
	})

	require.Equal(t, harvest.JobStateCompleted, jobState(q, "explicit-ok"))
	require.Equal(t, harvest.JobStateFailed, jobState(q, "explicit-fail"))
	require.Equal(t, harvest.JobStateFailed, jobState(q, "returned-error"))
	require.Equal(t, harvest.JobStateCompleted, jobState(q, "implicit-ok"))
	require.Equal(t, harvest.JobStateFailed, jobState(q, "panics"))

	failed, _ := q.Job("explicit-fail")
	require.Equal(t, "roster unavailable", failed.Reason)
	panicked, _ := q.Job("panics")
	require.Contains(t, panicked.Reason, "handler panic")
}

func TestConsumeFirstAckWins(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	enqueue(t, q, "job-1")
	d := New(q, Config{PollInterval: 5 * time.Millisecond}, zap.NewNop())

	runUntil(t, d, func(_ context.Context, _ harvest.BatchJob, ack Ack) error {
		ack(nil)
		ack(errors.New("late"))
		return errors.New("ignored")
	}, func() bool { return jobState(q, "job-1") == harvest.JobStateCompleted })
}

func TestConsumeProcessesOneJobAtATime(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	enqueue(t, q, "a", "b", "c")
	d := New(q, Config{PollInterval: 5 * time.Millisecond}, zap.NewNop())

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		order   []string
	)
	handler := func(_ context.Context, job harvest.BatchJob, _ Ack) error {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		order = append(order, job.ID)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	runUntil(t, d, handler, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3 && active == 0
	})
	require.Equal(t, 1, maxSeen)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestConsumeRejectsSecondHandler(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	enqueue(t, q, "blocking")
	d := New(q, Config{PollInterval: 5 * time.Millisecond}, zap.NewNop())

	started := make(chan struct{})
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = d.Consume(ctx, func(context.Context, harvest.BatchJob, Ack) error {
			close(started)
			<-release
			return nil
		})
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first handler never ran")
	}
	noop := func(context.Context, harvest.BatchJob, Ack) error { return nil }
	require.ErrorIs(t, d.Consume(ctx, noop), ErrAlreadyConsuming)
	require.Error(t, d.Consume(ctx, nil))
	close(release)
}

func TestConsumeStopsOnClosedQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	require.NoError(t, q.Close())
	d := New(q, Config{}, zap.NewNop())

	err := d.Consume(context.Background(), func(context.Context, harvest.BatchJob, Ack) error { return nil })
	require.ErrorIs(t, err, harvest.ErrQueueClosed)
}
