package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nldb/snapraft/internal/settings"
	"github.com/nldb/snapraft/internal/snapshot"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <data-dir>",
		Short: "List committed snapshots and their checksums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := snapshot.NewStore(args[0], settings.Soft)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			snaps, err := store.ListCommitted()
			if err != nil {
				return fmt.Errorf("list committed snapshots: %w", err)
			}
			if len(snaps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no committed snapshots")
				return nil
			}
			for _, snap := range snaps {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tindex=%d\tterm=%d\tchecksum=%d\n", snap.ID, snap.Index, snap.Term, snap.Checksum)
			}
			return nil
		},
	}
}
