// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

// RunStateStore keeps the last run start in memory. It does not survive restarts.
type RunStateStore struct {
	mu      sync.RWMutex
	started *time.Time
}

// NewRunStateStore constructs an empty RunStateStore.
func NewRunStateStore() *RunStateStore {
	return &RunStateStore{}
}

// LastRunStartedAt returns the stored run start.
func (s *RunStateStore) LastRunStartedAt(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.started == nil {
		return time.Time{}, false, nil
	}
	return *s.started, true, nil
}

// MarkRunStarted records a run start, refusing to move backwards.
func (s *RunStateStore) MarkRunStarted(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started != nil && at.Before(*s.started) {
		return harvest.ErrStaleRunState
	}
	ts := at.UTC()
	s.started = &ts
	return nil
}
