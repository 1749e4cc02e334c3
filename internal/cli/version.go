package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is the current version of churnwatch
	Version = "0.1.0"
	// GitCommit will be set by build flags
	GitCommit = "dev"
)

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// no config needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "churnwatch version: %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "git commit: %s\n", GitCommit)
		},
	}
}
