package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkival/seqscan/internal/batch"
	blobmemory "github.com/arkival/seqscan/internal/blob/memory"
	"github.com/arkival/seqscan/internal/progress"
	"github.com/arkival/seqscan/internal/scrape"
	"github.com/arkival/seqscan/internal/storage/memory"
	"github.com/arkival/seqscan/internal/window"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// scriptedFetcher serves a deterministic ID space: IDs up to maxValid exist,
// except those listed in errIDs (transient failures) or emptyIDs (pages with
// no usable record).
type scriptedFetcher struct {
	mu       sync.Mutex
	maxValid int64
	errIDs   map[int64]bool
	fetched  []int64
}

func (f *scriptedFetcher) Fetch(_ context.Context, id int64) (scrape.Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	f.mu.Unlock()
	if f.errIDs[id] {
		return scrape.Page{}, fmt.Errorf("fetch id %d: %w", id, scrape.ErrTransient)
	}
	if id > f.maxValid {
		return scrape.Page{}, fmt.Errorf("fetch id %d: %w", id, scrape.ErrNotFound)
	}
	return scrape.Page{
		ID:         id,
		URL:        fmt.Sprintf("https://catalog.test/listing/%d", id),
		StatusCode: 200,
		Body:       []byte(fmt.Sprintf("<html>listing %d</html>", id)),
	}, nil
}

type scriptedParser struct {
	emptyIDs map[int64]bool
}

func (p scriptedParser) Parse(page scrape.Page) (*scrape.Listing, error) {
	if p.emptyIDs[page.ID] {
		return nil, nil
	}
	return &scrape.Listing{
		SourceID: page.ID,
		Title:    fmt.Sprintf("listing %d", page.ID),
		URL:      page.URL,
	}, nil
}

type fixture struct {
	fetcher  *scriptedFetcher
	parser   scrape.Parser
	listings *memory.ListingStore
	progress *memory.ProgressStore
	blobs    *blobmemory.BlobStore
	pool     *Pool
}

func newFixture(t *testing.T, fetcher *scriptedFetcher, parser scrape.Parser, cfg Config) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	listings := memory.NewListingStore()
	progressStore := memory.NewProgressStore()
	blobs := blobmemory.NewBlobStore()
	buffer := batch.New(listings, clock, batch.Config{BatchSize: 4, ChunkLimit: 10}, zap.NewNop())
	tracker := progress.New(progressStore, clock, zap.NewNop())
	p := New(fetcher, parser, buffer, tracker, blobs, nil, clock, cfg, "run-test", zap.NewNop())
	return &fixture{
		fetcher:  fetcher,
		parser:   parser,
		listings: listings,
		progress: progressStore,
		blobs:    blobs,
		pool:     p,
	}
}

func defaultCriteria() window.Criteria {
	return window.Criteria{MinConsecutiveNotFound: 3, MinNotFoundRate: 0.6}
}

func TestRunBoundedScanIngestsEveryListing(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{maxValid: 40}
	f := newFixture(t, fetcher, scriptedParser{}, Config{
		Concurrency: 8,
		WindowSize:  10,
		Criteria:    defaultCriteria(),
	})

	final, err := f.pool.Run(context.Background(), 1, 40)
	require.NoError(t, err)
	require.Equal(t, int64(40), final)
	require.Equal(t, 40, f.listings.Len())
	for id := int64(1); id <= 40; id++ {
		_, ok := f.listings.Get(id)
		require.True(t, ok, "listing %d missing", id)
	}

	p, err := f.progress.ReadProgress(context.Background())
	require.NoError(t, err)
	require.Equal(t, scrape.StatusCompleted, p.Status)
	require.Equal(t, int64(40), p.LastProcessedID)
}

func TestRunClaimsEachIDExactlyOnce(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{maxValid: 200}
	f := newFixture(t, fetcher, scriptedParser{}, Config{
		Concurrency: 16,
		WindowSize:  10,
		Criteria:    defaultCriteria(),
	})

	_, err := f.pool.Run(context.Background(), 1, 200)
	require.NoError(t, err)

	seen := make(map[int64]int)
	for _, id := range f.fetcher.fetched {
		seen[id]++
	}
	require.Len(t, seen, 200)
	for id, count := range seen {
		require.Equal(t, 1, count, "id %d claimed %d times", id, count)
	}
}

func TestRunSequentialMatchesConcurrencyOne(t *testing.T) {
	t.Parallel()

	mkOutcomes := func() map[int64]scrape.OutcomeKind {
		fetcher := &scriptedFetcher{maxValid: 25, errIDs: map[int64]bool{7: true}}
		f := newFixture(t, fetcher, scriptedParser{emptyIDs: map[int64]bool{12: true}}, Config{
			Concurrency: 1,
			WindowSize:  10,
			Criteria:    defaultCriteria(),
		})
		_, err := f.pool.Run(context.Background(), 1, 30)
		require.NoError(t, err)

		got := make(map[int64]scrape.OutcomeKind)
		for _, o := range f.pool.Outcomes() {
			got[o.ID] = o.Kind
		}
		return got
	}

	got := mkOutcomes()

	// A sequential scan of the same range classifies identically.
	want := make(map[int64]scrape.OutcomeKind)
	for id := int64(1); id <= 30; id++ {
		switch {
		case id == 7:
			want[id] = scrape.OutcomeError
		case id <= 25:
			want[id] = scrape.OutcomeFound
		default:
			want[id] = scrape.OutcomeNotFound
		}
	}
	require.Equal(t, want, got)

	// And the outcome log arrives strictly in ID order with one worker.
	fetcher := &scriptedFetcher{maxValid: 25}
	f := newFixture(t, fetcher, scriptedParser{}, Config{
		Concurrency: 1,
		WindowSize:  10,
		Criteria:    defaultCriteria(),
	})
	_, err := f.pool.Run(context.Background(), 1, 30)
	require.NoError(t, err)
	log := f.pool.Outcomes()
	require.True(t, sort.SliceIsSorted(log, func(i, j int) bool {
		return log[i].ID < log[j].ID
	}))
}

func TestRunUnboundedStopsPastBoundary(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{maxValid: 60}
	f := newFixture(t, fetcher, scriptedParser{}, Config{
		Concurrency: 4,
		WindowSize:  10,
		Criteria:    defaultCriteria(),
	})

	final, err := f.pool.Run(context.Background(), 1, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, final, int64(60))
	// The stop flag kicks in shortly after the boundary; the scan must not
	// run away into the empty ID space.
	require.Less(t, final, int64(200))
	require.Equal(t, 60, f.listings.Len())
}

func TestRunAbortsOnConsecutiveErrorCeiling(t *testing.T) {
	t.Parallel()

	errIDs := make(map[int64]bool)
	for id := int64(10); id <= 100; id++ {
		errIDs[id] = true
	}
	fetcher := &scriptedFetcher{maxValid: 100, errIDs: errIDs}
	f := newFixture(t, fetcher, scriptedParser{}, Config{
		Concurrency:          4,
		MaxConsecutiveErrors: 5,
		WindowSize:           10,
		Criteria:             defaultCriteria(),
	})

	_, err := f.pool.Run(context.Background(), 1, 100)
	require.ErrorIs(t, err, scrape.ErrTooManyErrors)

	p, readErr := f.progress.ReadProgress(context.Background())
	require.NoError(t, readErr)
	require.Equal(t, scrape.StatusError, p.Status)
	require.NotEmpty(t, p.ErrorMessage)
}

func TestRunSingleTransientErrorIsRecovered(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{maxValid: 20, errIDs: map[int64]bool{5: true}}
	f := newFixture(t, fetcher, scriptedParser{}, Config{
		Concurrency:          2,
		MaxConsecutiveErrors: 3,
		WindowSize:           10,
		Criteria:             defaultCriteria(),
	})

	final, err := f.pool.Run(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Equal(t, int64(20), final)
	// ID 5 produced an Error outcome and was not retried.
	require.Equal(t, 19, f.listings.Len())
	_, ok := f.listings.Get(5)
	require.False(t, ok)
}

func TestRunEmptyPageIsFoundButNotIngested(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{maxValid: 10}
	f := newFixture(t, fetcher, scriptedParser{emptyIDs: map[int64]bool{3: true}}, Config{
		Concurrency: 1,
		WindowSize:  10,
		Criteria:    defaultCriteria(),
	})

	_, err := f.pool.Run(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, 9, f.listings.Len())

	for _, o := range f.pool.Outcomes() {
		if o.ID == 3 {
			require.Equal(t, scrape.OutcomeFound, o.Kind)
			require.Nil(t, o.Listing)
		}
	}
}

func TestRunArchivesRawPages(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{maxValid: 5}
	f := newFixture(t, fetcher, scriptedParser{}, Config{
		Concurrency: 2,
		WindowSize:  10,
		Criteria:    defaultCriteria(),
		BlobPrefix:  "pages",
	})

	_, err := f.pool.Run(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Equal(t, 5, f.blobs.Len())

	l, ok := f.listings.Get(2)
	require.True(t, ok)
	require.Equal(t, "memory://pages/run-test/2.html", l.BlobURI)
}

type failingProgressStore struct{}

func (failingProgressStore) ReadProgress(context.Context) (scrape.Progress, error) {
	return scrape.Progress{}, errors.New("progress table unavailable")
}

func (failingProgressStore) WriteProgress(context.Context, scrape.Progress) error {
	return errors.New("progress table unavailable")
}

func TestRunProgressWriteFailuresNeverAbortScan(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{maxValid: 15}
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	listings := memory.NewListingStore()
	buffer := batch.New(listings, clock, batch.Config{BatchSize: 4, ChunkLimit: 10}, zap.NewNop())
	tracker := progress.New(failingProgressStore{}, clock, zap.NewNop())
	p := New(fetcher, scriptedParser{}, buffer, tracker, nil, nil, clock, Config{
		Concurrency:   2,
		WindowSize:    10,
		Criteria:      defaultCriteria(),
		ProgressEvery: 1,
	}, "run-test", zap.NewNop())

	final, err := p.Run(context.Background(), 1, 15)
	require.NoError(t, err)
	require.Equal(t, int64(15), final)
	require.Equal(t, 15, listings.Len())
}

func TestRunCancellationStopsClaimingAndDrains(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &scriptedFetcher{maxValid: 1000}
	f := newFixture(t, fetcher, scriptedParser{}, Config{
		Concurrency: 4,
		WindowSize:  10,
		Criteria:    defaultCriteria(),
	})

	_, err := f.pool.Run(ctx, 1, 1000)
	// Cancellation is not a fatal error; whatever was buffered is drained.
	require.NoError(t, err)
	require.Equal(t, f.listings.Len(), countFound(f.pool.Outcomes()))

	p, readErr := f.progress.ReadProgress(context.Background())
	require.NoError(t, readErr)
	require.Equal(t, scrape.StatusIdle, p.Status)
}

func countFound(outcomes []scrape.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Kind == scrape.OutcomeFound && o.Listing != nil {
			n++
		}
	}
	return n
}
