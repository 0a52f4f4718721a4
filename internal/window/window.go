// Package window implements the ID-ordered outcome window and the
// termination criteria evaluated over it.
package window

import (
	"sort"

	"github.com/arkival/seqscan/internal/scrape"
)

// Criteria decides when a scan has walked past the boundary ID. Both the
// boundary finder and the live worker pool evaluate the same function over
// their own window instances, which keeps the decision reproducible despite
// out-of-order completions.
type Criteria struct {
	MinConsecutiveNotFound int
	MinNotFoundRate        float64
}

// ShouldStop reports whether the window shows enough trailing misses.
// The window keeps its entries sorted by ID, so the decision is invariant
// under any permutation of arrival order.
func (c Criteria) ShouldStop(w *Window) bool {
	if w.Len() == 0 {
		return false
	}
	return w.ConsecutiveTrailingNotFound() >= c.MinConsecutiveNotFound &&
		w.NotFoundRate() >= c.MinNotFoundRate
}

type entry struct {
	id   int64
	kind scrape.OutcomeKind
}

// Window is a fixed-capacity history of the most recent outcomes, ordered by
// ID. Insertion beyond capacity evicts the lowest ID, not the oldest arrival.
// Window is not synchronized; callers sharing one instance across goroutines
// must hold their own lock.
type Window struct {
	capacity int
	entries  []entry
}

// New creates a Window holding at most capacity outcomes.
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{
		capacity: capacity,
		entries:  make([]entry, 0, capacity),
	}
}

// Record inserts an outcome, keeping entries sorted ascending by ID. A
// duplicate ID replaces the previous classification.
func (w *Window) Record(id int64, kind scrape.OutcomeKind) {
	i := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i].id >= id
	})
	if i < len(w.entries) && w.entries[i].id == id {
		w.entries[i].kind = kind
		return
	}
	w.entries = append(w.entries, entry{})
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = entry{id: id, kind: kind}

	if len(w.entries) > w.capacity {
		w.entries = w.entries[1:]
	}
}

// Len returns the number of recorded outcomes.
func (w *Window) Len() int {
	return len(w.entries)
}

// ConsecutiveTrailingNotFound counts the run of NotFound outcomes at the
// high-ID end of the window.
func (w *Window) ConsecutiveTrailingNotFound() int {
	count := 0
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].kind != scrape.OutcomeNotFound {
			break
		}
		count++
	}
	return count
}

// NotFoundRate returns the fraction of NotFound outcomes in the window.
func (w *Window) NotFoundRate() float64 {
	if len(w.entries) == 0 {
		return 0
	}
	notFound := 0
	for _, e := range w.entries {
		if e.kind == scrape.OutcomeNotFound {
			notFound++
		}
	}
	return float64(notFound) / float64(len(w.entries))
}
