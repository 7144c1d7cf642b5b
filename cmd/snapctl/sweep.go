package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nldb/snapraft/internal/settings"
	"github.com/nldb/snapraft/internal/snapshot"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep <data-dir>",
		Short: "Remove orphaned pending (in-progress install) directories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := snapshot.NewStore(args[0], settings.Soft)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			if err := store.SweepPending(); err != nil {
				return fmt.Errorf("sweep pending directories: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "swept pending directories")
			return nil
		},
	}
}
