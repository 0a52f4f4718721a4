package boundary

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkival/seqscan/internal/scrape"
	"github.com/arkival/seqscan/internal/window"
)

// syntheticSource succeeds for IDs 1..maxValid and reports NotFound above.
type syntheticSource struct {
	mu       sync.Mutex
	maxValid int64
	probes   []int64
	failIDs  map[int64]bool // IDs that return a transient error instead
}

func (s *syntheticSource) Fetch(_ context.Context, id int64) (scrape.Page, error) {
	s.mu.Lock()
	s.probes = append(s.probes, id)
	s.mu.Unlock()
	if s.failIDs[id] {
		return scrape.Page{}, fmt.Errorf("fetch id %d: %w", id, scrape.ErrTransient)
	}
	if id > s.maxValid {
		return scrape.Page{}, fmt.Errorf("fetch id %d: %w", id, scrape.ErrNotFound)
	}
	return scrape.Page{ID: id, StatusCode: 200, Body: []byte("listing")}, nil
}

type passParser struct{}

func (passParser) Parse(page scrape.Page) (*scrape.Listing, error) {
	return &scrape.Listing{SourceID: page.ID}, nil
}

func newTestFinder(src *syntheticSource, windowSize int) *Finder {
	return New(src, passParser{}, Config{
		WindowSize: windowSize,
		Criteria: window.Criteria{
			MinConsecutiveNotFound: 3,
			MinNotFoundRate:        0.6,
		},
	}, zap.NewNop())
}

func TestFindMaxIDExactBoundary(t *testing.T) {
	t.Parallel()

	for _, maxValid := range []int64{1, 2, 3, 7, 10, 17, 100, 999, 4096} {
		src := &syntheticSource{maxValid: maxValid}
		f := newTestFinder(src, 5)

		got, err := f.FindMaxID(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, maxValid, got, "boundary for source with max %d", maxValid)
	}
}

func TestFindMaxIDNeverReturnsUnprobedSuccess(t *testing.T) {
	t.Parallel()

	src := &syntheticSource{maxValid: 57}
	f := newTestFinder(src, 5)

	got, err := f.FindMaxID(context.Background(), 1)
	require.NoError(t, err)

	// The returned ID must be one whose probe succeeded.
	require.Contains(t, src.probes, got)
	require.LessOrEqual(t, got, src.maxValid)
}

func TestFindMaxIDEmptySourceReturnsStartID(t *testing.T) {
	t.Parallel()

	src := &syntheticSource{maxValid: 0}
	f := newTestFinder(src, 5)

	got, err := f.FindMaxID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)
}

func TestFindMaxIDStartAboveBoundary(t *testing.T) {
	t.Parallel()

	// Every probe at or above startID misses; the run is "no data".
	src := &syntheticSource{maxValid: 10}
	f := newTestFinder(src, 5)

	got, err := f.FindMaxID(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, int64(50), got)
}

func TestFindMaxIDSafetyCeilingBoundsPhaseOne(t *testing.T) {
	t.Parallel()

	src := &syntheticSource{maxValid: 1 << 40}
	f := New(src, passParser{}, Config{
		SafetyCeiling: 1000,
		WindowSize:    5,
		Criteria: window.Criteria{
			MinConsecutiveNotFound: 3,
			MinNotFoundRate:        0.6,
		},
	}, zap.NewNop())

	got, err := f.FindMaxID(context.Background(), 1)
	require.NoError(t, err)
	require.LessOrEqual(t, got, int64(1000))
	for _, id := range src.probes {
		require.LessOrEqual(t, id, int64(1024), "probe escaped the ceiling region")
	}
}

func TestFindMaxIDTransientErrorsDoNotRaiseBoundary(t *testing.T) {
	t.Parallel()

	src := &syntheticSource{
		maxValid: 20,
		failIDs:  map[int64]bool{16: true},
	}
	f := newTestFinder(src, 10)

	got, err := f.FindMaxID(context.Background(), 1)
	require.NoError(t, err)
	// An errored probe never counts as success, so the result can only be an
	// ID that genuinely succeeded.
	require.Contains(t, src.probes, got)
	require.LessOrEqual(t, got, src.maxValid)
}

func TestFindMaxIDCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &syntheticSource{maxValid: 100}
	f := newTestFinder(src, 5)

	_, err := f.FindMaxID(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}
