package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nldb/snapraft/internal/settings"
	"github.com/nldb/snapraft/internal/snapshot"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <data-dir>",
		Short: "Recompute each committed snapshot's checksum and report mismatches",
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

			mismatches := 0
			for _, snap := range snaps {
				recorded, computed, err := store.VerifyChecksum(snap.ID)
				if err != nil {
					return fmt.Errorf("verify %s: %w", snap.ID, err)
				}
				if recorded != computed {
					mismatches++
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tMISMATCH recorded=%d computed=%d\n", snap.ID, recorded, computed)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\n", snap.ID)
			}
			if mismatches > 0 {
				return fmt.Errorf("%d snapshot(s) failed checksum verification", mismatches)
			}
			return nil
		},
	}
}
