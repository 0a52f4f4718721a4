package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkival/seqscan/internal/api"
	"github.com/arkival/seqscan/internal/boundary"
	"github.com/arkival/seqscan/internal/clock/system"
	"github.com/arkival/seqscan/internal/hash/sha256"
	"github.com/arkival/seqscan/internal/id/uuid"
	"github.com/arkival/seqscan/internal/pool"
	"github.com/arkival/seqscan/internal/window"
)

type scanFlags struct {
	startID       int64
	maxID         int64
	findMaxID     bool
	concurrency   int
	batchSize     int
	flushInterval time.Duration
	dryRun        bool
	serve         bool
}

// newScanCmd creates the 'scan' subcommand.
func newScanCmd() *cobra.Command {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the ID space and ingest listings",
		Long: `Scans catalog detail pages from --start-id upward. With --max-id the scan
is bounded; with --find-max-id the boundary is probed first; otherwise the
scan runs until the trailing not-found window says the catalog has ended.
A scan resumes from the stored checkpoint when --start-id is not given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd.Context(), flags)
		},
	}

	cmd.Flags().Int64Var(&flags.startID, "start-id", 0, "first ID to scan (default: resume from checkpoint)")
	cmd.Flags().Int64Var(&flags.maxID, "max-id", 0, "last ID to scan (0 = unbounded)")
	cmd.Flags().BoolVar(&flags.findMaxID, "find-max-id", false, "probe for the boundary ID before scanning")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "worker count (overrides config)")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "listings per flush (overrides config)")
	cmd.Flags().DurationVar(&flags.flushInterval, "flush-interval", 0, "time-based flush cadence (overrides config)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "scan without touching external systems")
	cmd.Flags().BoolVar(&flags.serve, "serve", false, "expose the status HTTP server while scanning")
	return cmd
}

func runScan(parent context.Context, flags scanFlags) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	d, err := buildDeps(ctx, clk, flags.dryRun)
	if err != nil {
		return err
	}
	defer d.close()

	cfg := d.cfg
	if flags.concurrency > 0 {
		cfg.Scan.Concurrency = flags.concurrency
	}
	if flags.batchSize > 0 {
		cfg.Batch.Size = flags.batchSize
	}
	flushInterval := time.Duration(cfg.Batch.FlushIntervalMs) * time.Millisecond
	if flags.flushInterval > 0 {
		flushInterval = flags.flushInterval
	}

	runID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	logger := d.logger.With(zap.String("run_id", runID))

	startID := flags.startID
	if startID <= 0 {
		p, err := d.tracker.Read(ctx)
		if err != nil {
			return fmt.Errorf("resume from checkpoint: %w", err)
		}
		startID = p.LastProcessedID + 1
		logger.Info("resuming from checkpoint", zap.Int64("start_id", startID))
	}

	criteria := window.Criteria{
		MinConsecutiveNotFound: cfg.Stop.MinConsecutive,
		MinNotFoundRate:        cfg.Stop.MinRate,
	}

	maxID := flags.maxID
	if flags.findMaxID {
		finder := boundary.New(d.fetcher, d.parser, boundary.Config{
			SafetyCeiling: cfg.Boundary.SafetyCeiling,
			WindowSize:    cfg.Stop.WindowSize,
			Criteria:      criteria,
		}, logger)
		maxID, err = finder.FindMaxID(ctx, startID)
		if err != nil {
			return err
		}
		logger.Info("boundary probe finished", zap.Int64("max_id", maxID))
	}

	if flags.serve {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(d.progress, logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	buffer := d.newBuffer(runID, cfg.Batch.Size, cfg.Batch.ChunkLimit)
	buffer.StartAutoFlush(flushInterval)

	p := pool.New(
		d.fetcher,
		d.parser,
		buffer,
		d.tracker,
		d.blobs,
		sha256.New(),
		clk,
		pool.Config{
			Concurrency:          cfg.Scan.Concurrency,
			MaxConsecutiveErrors: cfg.Scan.MaxConsecutiveErrors,
			WindowSize:           cfg.Stop.WindowSize,
			Criteria:             criteria,
			ProgressEvery:        cfg.Scan.ProgressEvery,
			BlobPrefix:           cfg.Storage.Prefix,
			DrainTimeout:         time.Duration(cfg.Scan.DrainTimeoutSeconds) * time.Second,
		},
		runID,
		logger,
	)

	lastID, err := p.Run(ctx, startID, maxID)
	if err != nil {
		return fmt.Errorf("scan failed at id %d: %w", lastID, err)
	}
	logger.Info("scan finished", zap.Int64("last_processed_id", lastID))
	return nil
}
