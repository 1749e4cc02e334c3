package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/internal/config"
	"github.com/churnwatch/churnwatch/internal/orchestrator"
)

// NewRunCommand creates the run command
func NewRunCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the churn client with its API and metrics",
		Long: `Run in the foreground until interrupted. The client follows the feed,
resyncs on the refresh schedule, reconnects when the feed goes quiet and
serves the API and Prometheus metrics when enabled. Endpoint changes in the
config file are applied without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			o, err := orchestrator.New(ctx, a.cfg, a.logger, orchestrator.Options{
				Serve:   true,
				Resync:  true,
				Version: Version,
			})
			if err != nil {
				return err
			}
			if err := o.Start(); err != nil {
				o.Stop()
				return err
			}
			defer o.Stop()

			if _, err := os.Stat(a.configPath); err == nil {
				watcher, err := config.NewWatcher(a.configPath, a.cfg, a.logger.Named("config"))
				if err != nil {
					a.logger.Warn("config reload disabled", zap.Error(err))
				} else {
					defer watcher.Stop()
					o.WatchConfig(watcher)
				}
			}

			<-ctx.Done()
			a.logger.Info("shutting down")
			return nil
		},
	}
}
