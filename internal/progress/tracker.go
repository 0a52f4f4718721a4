// Package progress maintains the best-effort scan checkpoint.
package progress

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkival/seqscan/internal/scrape"
)

// Tracker wraps a ProgressStore with the checkpointing policy: reads
// initialize the singleton row, writes are best-effort and never abort an
// otherwise-healthy scan.
type Tracker struct {
	store  scrape.ProgressStore
	clock  scrape.Clock
	logger *zap.Logger
}

// New constructs a Tracker.
func New(store scrape.ProgressStore, clock scrape.Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// Read returns the current checkpoint. The store initializes the singleton
// row with status=idle, lastProcessedId=0 when none exists.
func (t *Tracker) Read(ctx context.Context) (scrape.Progress, error) {
	p, err := t.store.ReadProgress(ctx)
	if err != nil {
		return scrape.Progress{}, fmt.Errorf("read progress: %w", err)
	}
	return p, nil
}

// Write persists the checkpoint. Failures are logged and swallowed: progress
// tracking must never abort the scrape.
func (t *Tracker) Write(ctx context.Context, lastID int64, status scrape.RunStatus, errMsg string) {
	p := scrape.Progress{
		LastProcessedID: lastID,
		Status:          status,
		ErrorMessage:    errMsg,
		UpdatedAt:       t.clock.Now(),
	}
	if err := t.store.WriteProgress(ctx, p); err != nil {
		t.logger.Warn("progress write failed",
			zap.Int64("last_processed_id", lastID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
