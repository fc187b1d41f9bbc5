package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 10, PerHostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://scholar.example/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://SCHOLAR.example/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterSeparatesHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 0.1, PerHostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 100 {
		require.NoError(t, l.Wait(context.Background(), "https://a.example/1"))
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 0.01, PerHostBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.example/2"))
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "scholar.example", hostOf(" https://Scholar.Example:443/citations?user=x "))
	require.Equal(t, unknownHost, hostOf("not a url"))
	require.Equal(t, unknownHost, hostOf("://"))
}
