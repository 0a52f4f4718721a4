package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arkival/seqscan/internal/boundary"
	"github.com/arkival/seqscan/internal/clock/system"
	"github.com/arkival/seqscan/internal/window"
)

// newProbeCmd creates the 'probe' subcommand.
func newProbeCmd() *cobra.Command {
	var startID int64
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Locate the highest live source ID",
		Long: `Probes the catalog with exponential doubling followed by binary search
and prints the highest ID that resolved to a live page. No listings are
persisted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd.Context(), startID)
		},
	}
	cmd.Flags().Int64Var(&startID, "start-id", 1, "ID to begin probing from")
	return cmd
}

func runProbe(parent context.Context, startID int64) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	// The probe never writes, so it always runs against memory stores.
	d, err := buildDeps(ctx, clk, true)
	if err != nil {
		return err
	}
	defer d.close()

	finder := boundary.New(d.fetcher, d.parser, boundary.Config{
		SafetyCeiling: d.cfg.Boundary.SafetyCeiling,
		WindowSize:    d.cfg.Stop.WindowSize,
		Criteria: window.Criteria{
			MinConsecutiveNotFound: d.cfg.Stop.MinConsecutive,
			MinNotFoundRate:        d.cfg.Stop.MinRate,
		},
	}, d.logger)

	maxID, err := finder.FindMaxID(ctx, startID)
	if err != nil {
		return err
	}
	fmt.Printf("max_id: %d\n", maxID)
	return nil
}
