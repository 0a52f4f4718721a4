// Package cmd defines and implements the CLI commands for the seqscan
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seqscan",
		Short: "Sequential-ID catalog scanner",
		Long: `seqscan walks a catalog whose detail pages are addressed by sequential
numeric IDs. It probes for the highest live ID, scans the ID space with a
concurrent worker pool, extracts listing records, and persists them in
idempotent batches with a resumable progress checkpoint.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus SEQSCAN_* env)")

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newProbeCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute is the main entry point. It exits non-zero on any command error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
