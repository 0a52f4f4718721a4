// Package boundary locates the highest valid source ID without a known
// upper bound.
package boundary

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkival/seqscan/internal/scrape"
	"github.com/arkival/seqscan/internal/window"
)

// Config controls Finder behavior.
type Config struct {
	// SafetyCeiling aborts the exponential phase; the last candidate becomes
	// the phase-1 upper bound.
	SafetyCeiling int64
	// WindowSize bounds the outcome window shared by both phases.
	WindowSize int
	Criteria   window.Criteria
}

// Finder estimates the boundary ID via exponential probing followed by
// binary search. Both phases share one outcome window and the same
// termination criteria as the live scan.
type Finder struct {
	fetcher scrape.Fetcher
	parser  scrape.Parser
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Finder.
func New(fetcher scrape.Fetcher, parser scrape.Parser, cfg Config, logger *zap.Logger) *Finder {
	if cfg.SafetyCeiling <= 0 {
		cfg.SafetyCeiling = 1 << 31
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{
		fetcher: fetcher,
		parser:  parser,
		cfg:     cfg,
		logger:  logger,
	}
}

// FindMaxID returns the highest ID observed to succeed, starting the search
// at startID. When no probe ever succeeds it returns startID; callers must
// treat a zero-success run as "no data", not as a valid boundary.
func (f *Finder) FindMaxID(ctx context.Context, startID int64) (int64, error) {
	if startID < 1 {
		startID = 1
	}
	win := window.New(f.cfg.WindowSize)

	var maxValid int64
	lastValid := startID
	candidate := startID

	// Phase 1: exponential probe. Doubling on success, bisecting back toward
	// the last known-valid ID on a miss, so the phase converges without
	// dense probing. The phase runs to convergence (step reaches zero) or
	// until the safety ceiling aborts it; only phase 2 consults the
	// termination criteria.
	for candidate <= f.cfg.SafetyCeiling {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("boundary search canceled: %w", err)
		}
		kind := f.probe(ctx, win, candidate)
		if kind == scrape.OutcomeFound {
			lastValid = candidate
			if candidate > maxValid {
				maxValid = candidate
			}
			candidate *= 2
			continue
		}
		step := (candidate - lastValid) / 2
		if step == 0 {
			break
		}
		candidate = lastValid + step
	}
	upper := min(candidate, f.cfg.SafetyCeiling)
	f.logger.Debug("exponential phase finished",
		zap.Int64("last_valid", lastValid),
		zap.Int64("upper_bound", upper),
	)

	// Phase 2: binary search over [lastValid, upper]. A success raises the
	// lower bound; a miss records into the window and re-checks the shared
	// termination criteria.
	low, high := lastValid, upper
	for low < high {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("boundary search canceled: %w", err)
		}
		mid := low + (high-low+1)/2
		kind := f.probe(ctx, win, mid)
		if kind == scrape.OutcomeFound {
			low = mid
			if mid > maxValid {
				maxValid = mid
			}
			continue
		}
		high = mid - 1
		if f.cfg.Criteria.ShouldStop(win) {
			break
		}
	}

	if maxValid == 0 {
		f.logger.Warn("no probe succeeded; source appears empty",
			zap.Int64("start_id", startID))
		return startID, nil
	}
	f.logger.Info("boundary located", zap.Int64("max_id", maxValid))
	return maxValid, nil
}

func (f *Finder) probe(ctx context.Context, win *window.Window, id int64) scrape.OutcomeKind {
	out, _ := scrape.Probe(ctx, f.fetcher, f.parser, id)
	scrape.BoundaryProbesTotal.Inc()
	win.Record(out.ID, out.Kind)
	if out.Kind == scrape.OutcomeError {
		f.logger.Warn("probe failed", zap.Int64("id", id), zap.Error(out.Err))
	}
	return out.Kind
}
