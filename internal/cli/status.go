package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/churnwatch/churnwatch/internal/api"
	"github.com/churnwatch/churnwatch/internal/churn"
	"github.com/churnwatch/churnwatch/internal/orchestrator"
)

// NewStatusCommand creates the status command
func NewStatusCommand(a *app) *cobra.Command {
	var (
		jsonOutput bool
		blocks     bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the churn countdown once",
		Long: `Connect, wait for the first block and the next churn height, print the
countdown and exit. If the churn height has not arrived by --timeout the
countdown is printed with what is known; without any block it is an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := orchestrator.New(cmd.Context(), a.cfg, a.logger, orchestrator.Options{})
			if err != nil {
				return err
			}
			if err := o.Start(); err != nil {
				o.Stop()
				return err
			}
			defer o.Stop()

			snap, err := waitForBlock(o.Client().Subscribe(), timeout)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(api.NewStateView(snap, time.Now()))
			}

			fmt.Fprintln(cmd.OutOrStdout(), countdownLine(snap, blocks))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full state as JSON")
	cmd.Flags().BoolVar(&blocks, "blocks", false, "Show remaining blocks instead of days, hours and minutes")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the network")

	return cmd
}

// waitForBlock returns the first snapshot with both a block and a churn
// height, or at timeout the newest one with a block.
func waitForBlock(updates <-chan churn.Snapshot, timeout time.Duration) (churn.Snapshot, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var last churn.Snapshot
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return last, fmt.Errorf("client stopped before a block arrived")
			}
			last = snap
			if snap.CurrentBlockHeight > 0 && snap.NextChurnKnown() {
				return snap, nil
			}
		case <-timer.C:
			if last.CurrentBlockHeight > 0 {
				return last, nil
			}
			return last, fmt.Errorf("no block received within %s", timeout)
		}
	}
}
