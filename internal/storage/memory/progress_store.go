package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arkival/seqscan/internal/scrape"
)

// ProgressStore holds the singleton checkpoint in memory.
type ProgressStore struct {
	mu          sync.RWMutex
	progress    scrape.Progress
	initialized bool
	writes      int
}

// NewProgressStore creates an in-memory progress store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{}
}

// ReadProgress returns the checkpoint, initializing the idle singleton on
// first read like the Postgres store does.
func (s *ProgressStore) ReadProgress(_ context.Context) (scrape.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		s.progress = scrape.Progress{
			Status:    scrape.StatusIdle,
			UpdatedAt: time.Now().UTC(),
		}
		s.initialized = true
	}
	return s.progress, nil
}

// WriteProgress replaces the checkpoint.
func (s *ProgressStore) WriteProgress(_ context.Context, p scrape.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
	s.initialized = true
	s.writes++
	return nil
}

// Writes returns how many checkpoint writes were issued.
func (s *ProgressStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
