// Package memory provides in-memory store implementations for dry runs and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/arkival/seqscan/internal/scrape"
)

// ListingStore keeps upserted listings in a map keyed by source ID, matching
// the idempotence contract of the Postgres store.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[int64]scrape.Listing
	upserts  int
}

// NewListingStore creates an empty in-memory listing store.
func NewListingStore() *ListingStore {
	return &ListingStore{
		listings: make(map[int64]scrape.Listing),
	}
}

// UpsertBatch inserts or overwrites each listing by SourceID.
func (s *ListingStore) UpsertBatch(_ context.Context, listings []scrape.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range listings {
		s.listings[l.SourceID] = l
	}
	s.upserts++
	return nil
}

// Get returns the stored listing for id.
func (s *ListingStore) Get(id int64) (scrape.Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	return l, ok
}

// Len returns the number of distinct stored listings.
func (s *ListingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}

// UpsertCalls returns how many batch upserts were issued.
func (s *ListingStore) UpsertCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}
