package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkival/seqscan/internal/clock/system"
)

// newStatusCmd creates the 'status' subcommand.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the scan checkpoint",
		Long:  `Reads the progress checkpoint from the database and prints it as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context())
		},
	}
	return cmd
}

func runStatus(ctx context.Context) error {
	d, err := buildDeps(ctx, system.New(), false)
	if err != nil {
		return err
	}
	defer d.close()

	p, err := d.tracker.Read(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return nil
}
