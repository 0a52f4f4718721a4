// Package batch accumulates listings and flushes them to storage in bounded
// chunks without blocking producers.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkival/seqscan/internal/scrape"
)

// flushState is the buffer's explicit state machine. A fill-up during an
// active flush moves to flushingPending, which re-triggers one more flush
// when the current one completes instead of running two concurrently.
type flushState int

const (
	stateIdle flushState = iota
	stateFlushing
	stateFlushingPending
)

// maxFlushIterations guards the "flush again if still full" loop against
// pathological producers.
const maxFlushIterations = 1000

// Config controls Buffer behavior.
type Config struct {
	// BatchSize is the fill threshold that schedules an asynchronous flush.
	BatchSize int
	// ChunkLimit is the hard ceiling on records per persistence call.
	ChunkLimit int
	// FlushTimeout bounds a single persistence call.
	FlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ChunkLimit <= 0 {
		c.ChunkLimit = 500
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	return c
}

// DeadLetterFunc receives chunks that failed persistence. Without one, a
// failed chunk is dropped after logging.
type DeadLetterFunc func(ctx context.Context, listings []scrape.Listing)

// FlushEvent is published after each successfully persisted chunk.
type FlushEvent struct {
	RunID     string    `json:"run_id"`
	ChunkSize int       `json:"chunk_size"`
	HighID    int64     `json:"high_id"`
	FlushedAt time.Time `json:"flushed_at"`
}

// Buffer stages listings between the worker pool and the listing store.
// Add never blocks on persistence: a flush snapshots and swaps the active
// buffer, so producers keep appending to a fresh one while the snapshot is
// being upserted in chunks.
type Buffer struct {
	store      scrape.ListingStore
	publisher  scrape.Publisher
	deadLetter DeadLetterFunc
	clock      scrape.Clock
	cfg        Config
	runID      string
	logger     *zap.Logger

	mu       sync.Mutex
	state    flushState
	buf      []scrape.Listing
	inflight chan struct{} // closed when the running flush finishes

	timerStop chan struct{}
	timerDone chan struct{}
}

// Option configures optional Buffer collaborators.
type Option func(*Buffer)

// WithPublisher emits a FlushEvent per persisted chunk.
func WithPublisher(p scrape.Publisher, runID string) Option {
	return func(b *Buffer) {
		b.publisher = p
		b.runID = runID
	}
}

// WithDeadLetter routes failed chunks to sink instead of dropping them.
func WithDeadLetter(sink DeadLetterFunc) Option {
	return func(b *Buffer) {
		b.deadLetter = sink
	}
}

// New constructs a Buffer.
func New(store scrape.ListingStore, clock scrape.Clock, cfg Config, logger *zap.Logger, opts ...Option) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Buffer{
		store:  store,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends a listing to the active buffer and, when the fill threshold is
// reached, schedules a flush without making the caller wait for it.
func (b *Buffer) Add(listing scrape.Listing) {
	b.mu.Lock()
	b.buf = append(b.buf, listing)
	scrape.ListingsIngested.Inc()
	if len(b.buf) >= b.cfg.BatchSize {
		b.scheduleFlushLocked()
	}
	b.mu.Unlock()
}

// Len returns the number of listings currently staged.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Flush schedules an asynchronous flush of whatever is staged. Concurrent
// calls collapse onto the running flush.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if len(b.buf) > 0 {
		b.scheduleFlushLocked()
	}
	b.mu.Unlock()
}

// scheduleFlushLocked drives the state machine. Callers hold b.mu.
func (b *Buffer) scheduleFlushLocked() {
	switch b.state {
	case stateIdle:
		b.state = stateFlushing
		b.inflight = make(chan struct{})
		go b.flushLoop()
	case stateFlushing:
		b.state = stateFlushingPending
	case stateFlushingPending:
		// Already re-triggered.
	}
}

// flushLoop persists snapshots until no pending re-trigger remains. It is an
// explicit loop with an iteration guard rather than recursion.
func (b *Buffer) flushLoop() {
	for iter := 0; iter < maxFlushIterations; iter++ {
		b.mu.Lock()
		snapshot := b.buf
		b.buf = nil
		b.mu.Unlock()

		if len(snapshot) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.FlushTimeout)
			if err := b.persist(ctx, snapshot); err != nil {
				b.logger.Error("asynchronous flush failed", zap.Error(err))
			}
			cancel()
		}

		b.mu.Lock()
		if b.state == stateFlushingPending {
			b.state = stateFlushing
			b.mu.Unlock()
			continue
		}
		b.finishFlushLocked()
		b.mu.Unlock()
		return
	}

	b.logger.Warn("flush loop hit iteration guard", zap.Int("iterations", maxFlushIterations))
	b.mu.Lock()
	b.finishFlushLocked()
	b.mu.Unlock()
}

// finishFlushLocked returns the machine to idle and releases waiters.
func (b *Buffer) finishFlushLocked() {
	b.state = stateIdle
	close(b.inflight)
	b.inflight = nil
}

// persist splits a snapshot into chunks under the hard ceiling and upserts
// each one. A failed chunk is dead-lettered (or dropped) so the snapshot
// never re-enters the buffer; it returns the first persistence error.
func (b *Buffer) persist(ctx context.Context, snapshot []scrape.Listing) error {
	var firstErr error
	for start := 0; start < len(snapshot); start += b.cfg.ChunkLimit {
		end := min(start+b.cfg.ChunkLimit, len(snapshot))
		chunk := snapshot[start:end]

		if err := b.store.UpsertBatch(ctx, chunk); err != nil {
			scrape.FlushFailures.Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("upsert chunk of %d: %w", len(chunk), err)
			}
			b.handleFailedChunk(ctx, chunk, err)
			continue
		}
		scrape.FlushesTotal.Inc()
		b.publishFlush(ctx, chunk)
	}
	return firstErr
}

func (b *Buffer) handleFailedChunk(ctx context.Context, chunk []scrape.Listing, err error) {
	if b.deadLetter != nil {
		scrape.DeadLettered.Add(float64(len(chunk)))
		b.deadLetter(ctx, chunk)
		return
	}
	b.logger.Error("dropping chunk after persistence failure",
		zap.Int("records", len(chunk)),
		zap.Error(err),
	)
}

func (b *Buffer) publishFlush(ctx context.Context, chunk []scrape.Listing) {
	if b.publisher == nil {
		return
	}
	var highID int64
	for _, l := range chunk {
		if l.SourceID > highID {
			highID = l.SourceID
		}
	}
	event := FlushEvent{
		RunID:     b.runID,
		ChunkSize: len(chunk),
		HighID:    highID,
		FlushedAt: b.clock.Now(),
	}
	if _, err := b.publisher.Publish(ctx, event); err != nil {
		b.logger.Warn("flush event publish failed", zap.Error(err))
	}
}

// StartAutoFlush flushes partially filled buffers every interval,
// independent of size. It is a no-op when a timer is already running.
func (b *Buffer) StartAutoFlush(interval time.Duration) {
	if interval <= 0 {
		return
	}
	b.mu.Lock()
	if b.timerStop != nil {
		b.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	b.timerStop = stop
	b.timerDone = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Flush()
			case <-stop:
				return
			}
		}
	}()
}

// StopAutoFlush stops the timer and waits for it to exit.
func (b *Buffer) StopAutoFlush() {
	b.mu.Lock()
	stop, done := b.timerStop, b.timerDone
	b.timerStop, b.timerDone = nil, nil
	b.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// FlushAll stops the timer, awaits any in-flight flush, then drains the
// buffer synchronously. A persistence failure during the drain is surfaced
// but never stalls it: persist discards or dead-letters failed chunks, so
// the buffer shrinks on every iteration and the drain terminates.
func (b *Buffer) FlushAll(ctx context.Context) error {
	b.StopAutoFlush()

	b.mu.Lock()
	inflight := b.inflight
	b.mu.Unlock()
	if inflight != nil {
		select {
		case <-inflight:
		case <-ctx.Done():
			return fmt.Errorf("await in-flight flush: %w", ctx.Err())
		}
	}

	var firstErr error
	for iter := 0; iter < maxFlushIterations; iter++ {
		b.mu.Lock()
		if len(b.buf) == 0 {
			b.mu.Unlock()
			return firstErr
		}
		snapshot := b.buf
		b.buf = nil
		b.mu.Unlock()

		if err := b.persist(ctx, snapshot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
