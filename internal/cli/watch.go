package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/churnwatch/churnwatch/internal/churn"
	"github.com/churnwatch/churnwatch/internal/countdown"
	"github.com/churnwatch/churnwatch/internal/orchestrator"
)

// NewWatchCommand creates the watch command
func NewWatchCommand(a *app) *cobra.Command {
	var blocks bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the churn countdown as it changes",
		Long: `Follow the network and print one countdown line whenever it changes.
With --blocks the remaining time is shown as a block count.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			o, err := orchestrator.New(ctx, a.cfg, a.logger, orchestrator.Options{Resync: true})
			if err != nil {
				return err
			}
			if err := o.Start(); err != nil {
				o.Stop()
				return err
			}
			defer o.Stop()

			updates := o.Client().Subscribe()
			var last string
			for {
				select {
				case <-ctx.Done():
					return nil
				case snap, ok := <-updates:
					if !ok {
						return nil
					}
					if line := countdownLine(snap, blocks); line != last {
						fmt.Fprintln(cmd.OutOrStdout(), line)
						last = line
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&blocks, "blocks", false, "Show remaining blocks instead of days, hours and minutes")

	return cmd
}

func countdownLine(snap churn.Snapshot, blocks bool) string {
	return countdown.Compute(snap.CurrentBlockHeight, snap.NextChurnHeight,
		snap.ChurnIntervalBlocks, snap.AverageBlockSeconds, time.Now()).Line(blocks)
}
