// Package pool orchestrates the concurrent fetch/parse/ingest loop over the
// ID space.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arkival/seqscan/internal/batch"
	"github.com/arkival/seqscan/internal/progress"
	"github.com/arkival/seqscan/internal/scrape"
	"github.com/arkival/seqscan/internal/window"
)

// Config controls Pool behavior.
type Config struct {
	Concurrency int
	// MaxConsecutiveErrors aborts the whole pool when exceeded.
	MaxConsecutiveErrors int
	WindowSize           int
	Criteria             window.Criteria
	// ProgressEvery checkpoints progress every N recorded outcomes.
	ProgressEvery int
	// BlobPrefix prefixes archived page paths, e.g. "pages/<run>/<id>.html".
	BlobPrefix string
	// DrainTimeout bounds the final buffer drain.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 25
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 50
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = time.Minute
	}
	return c
}

// Pool claims IDs through one atomic counter shared by all workers, so no
// two workers ever process the same ID. Workers run independent loops and
// coordinate only through the stop flag, the shared outcome window, and the
// consecutive-error counter.
type Pool struct {
	fetcher scrape.Fetcher
	parser  scrape.Parser
	buffer  *batch.Buffer
	tracker *progress.Tracker
	blobs   scrape.BlobStore // optional raw-page archive
	hasher  scrape.Hasher
	clock   scrape.Clock
	cfg     Config
	runID   string
	logger  *zap.Logger

	next      atomic.Int64
	stop      atomic.Bool
	consecErr atomic.Int64
	processed atomic.Int64
	recorded  atomic.Int64

	mu         sync.Mutex
	win        *window.Window
	outcomeLog []scrape.Outcome

	fatalOnce sync.Once
	fatalErr  error
}

// New constructs a Pool. blobs may be nil to skip raw-page archival.
func New(
	fetcher scrape.Fetcher,
	parser scrape.Parser,
	buffer *batch.Buffer,
	tracker *progress.Tracker,
	blobs scrape.BlobStore,
	hasher scrape.Hasher,
	clock scrape.Clock,
	cfg Config,
	runID string,
	logger *zap.Logger,
) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Pool{
		fetcher: fetcher,
		parser:  parser,
		buffer:  buffer,
		tracker: tracker,
		blobs:   blobs,
		hasher:  hasher,
		clock:   clock,
		cfg:     cfg,
		runID:   runID,
		logger:  logger,
		win:     window.New(cfg.WindowSize),
	}
}

// Run scans IDs from startID upward until maxID (0 = unbounded, stopping on
// the termination criteria), and returns the highest processed ID. In-flight
// fetches finish on cancellation; the buffer is always drained before
// returning. A FatalError (consecutive-error ceiling) or a drain failure is
// returned to the caller.
func (p *Pool) Run(ctx context.Context, startID, maxID int64) (int64, error) {
	if startID < 1 {
		startID = 1
	}
	p.next.Store(startID)
	p.processed.Store(startID - 1)
	p.tracker.Write(ctx, startID-1, scrape.StatusRunning, "")
	p.logger.Info("scan started",
		zap.String("run_id", p.runID),
		zap.Int64("start_id", startID),
		zap.Int64("max_id", maxID),
		zap.Int("concurrency", p.cfg.Concurrency),
	)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p.workerLoop(ctx, maxID, p.logger.With(zap.Int("worker", idx)))
		}(i)
	}
	wg.Wait()

	final := p.processed.Load()

	// Shutdown drains even when the scan context is gone.
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DrainTimeout)
	defer cancel()
	drainErr := p.buffer.FlushAll(drainCtx)

	switch {
	case p.fatalErr != nil:
		p.tracker.Write(drainCtx, final, scrape.StatusError, p.fatalErr.Error())
		return final, p.fatalErr
	case drainErr != nil:
		p.tracker.Write(drainCtx, final, scrape.StatusError, drainErr.Error())
		return final, fmt.Errorf("final drain: %w", drainErr)
	case ctx.Err() != nil:
		// Interrupted, not failed: leave a resume-ready checkpoint.
		p.tracker.Write(drainCtx, final, scrape.StatusIdle, "")
		p.logger.Info("scan interrupted", zap.Int64("last_processed_id", final))
		return final, nil
	default:
		p.tracker.Write(drainCtx, final, scrape.StatusCompleted, "")
		p.logger.Info("scan completed", zap.Int64("last_processed_id", final))
		return final, nil
	}
}

// Outcomes returns a copy of the synchronized outcome log.
func (p *Pool) Outcomes() []scrape.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]scrape.Outcome(nil), p.outcomeLog...)
}

func (p *Pool) workerLoop(ctx context.Context, maxID int64, logger *zap.Logger) {
	for {
		if p.stop.Load() || ctx.Err() != nil {
			return
		}
		id := p.next.Add(1) - 1
		if maxID > 0 && id > maxID {
			return
		}

		outcome := p.processID(ctx, id, logger)
		p.record(ctx, outcome)
	}
}

func (p *Pool) processID(ctx context.Context, id int64, logger *zap.Logger) scrape.Outcome {
	outcome, page := scrape.Probe(ctx, p.fetcher, p.parser, id)
	if outcome.Kind == scrape.OutcomeFound && outcome.Listing != nil {
		p.enrichListing(ctx, outcome.Listing, page, logger)
	}
	if outcome.Kind == scrape.OutcomeError {
		logger.Warn("probe error", zap.Int64("id", id), zap.Error(outcome.Err))
	}
	return outcome
}

// enrichListing stamps fetch metadata and archives the raw page body.
func (p *Pool) enrichListing(ctx context.Context, listing *scrape.Listing, page scrape.Page, logger *zap.Logger) {
	listing.FetchedAt = p.clock.Now()
	if listing.URL == "" {
		listing.URL = page.URL
	}
	if p.hasher != nil && listing.ContentHash == "" {
		if hash, err := p.hasher.Hash(page.Body); err == nil {
			listing.ContentHash = hash
		}
	}
	if p.blobs == nil {
		return
	}
	path := fmt.Sprintf("%s/%s/%d.html", p.cfg.BlobPrefix, p.runID, listing.SourceID)
	uri, err := p.blobs.PutObject(ctx, path, "text/html; charset=utf-8", page.Body)
	if err != nil {
		// Archival is best-effort; the listing is still ingested.
		logger.Warn("page archive failed", zap.Int64("id", listing.SourceID), zap.Error(err))
		return
	}
	listing.BlobURI = uri
}

// record appends the outcome to the shared log and window, feeds the batch
// buffer, and re-evaluates the termination decision. The first worker to
// observe a positive decision sets the stop flag for everyone.
func (p *Pool) record(ctx context.Context, outcome scrape.Outcome) {
	p.mu.Lock()
	p.outcomeLog = append(p.outcomeLog, outcome)
	p.win.Record(outcome.ID, outcome.Kind)
	shouldStop := p.cfg.Criteria.ShouldStop(p.win)
	p.mu.Unlock()

	scrape.OutcomesTotal.WithLabelValues(outcome.Kind.String()).Inc()
	p.advanceProcessed(outcome.ID)

	if outcome.Kind == scrape.OutcomeError {
		if errs := p.consecErr.Add(1); errs >= int64(p.cfg.MaxConsecutiveErrors) {
			p.fatalOnce.Do(func() {
				p.fatalErr = fmt.Errorf("%w: %d in a row (last id %d)",
					scrape.ErrTooManyErrors, errs, outcome.ID)
			})
			p.stop.Store(true)
		}
	} else {
		p.consecErr.Store(0)
	}

	if outcome.Kind == scrape.OutcomeFound && outcome.Listing != nil {
		p.buffer.Add(*outcome.Listing)
	}

	if shouldStop && p.stop.CompareAndSwap(false, true) {
		p.logger.Info("termination criteria met",
			zap.Int64("id", outcome.ID),
			zap.Int64("last_processed_id", p.processed.Load()),
		)
	}

	if n := p.recorded.Add(1); n%int64(p.cfg.ProgressEvery) == 0 {
		p.tracker.Write(ctx, p.processed.Load(), scrape.StatusRunning, "")
	}
}

func (p *Pool) advanceProcessed(id int64) {
	for {
		cur := p.processed.Load()
		if id <= cur {
			return
		}
		if p.processed.CompareAndSwap(cur, id) {
			scrape.LastProcessedID.Set(float64(id))
			return
		}
	}
}
