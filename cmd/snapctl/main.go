// Command snapctl is the operator CLI for a snapshot store directory,
// built the way cuemby-warren's manifest binaries are: a thin
// spf13/cobra tree over the library packages, safe to run against a
// partition's data directory while the partition itself is stopped.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hashicorp/go-hclog"

	"github.com/nldb/snapraft/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "snapctl",
		Short:         "Inspect and repair a snapshot replication data directory",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(hclog.Debug)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newListCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newSweepCmd())
	return root
}
