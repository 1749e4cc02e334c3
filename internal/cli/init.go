package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/internal/config"
)

// NewInitCommand creates the init command
func NewInitCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Create the home directory and write the effective configuration
(defaults plus environment overrides) to the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := os.MkdirAll(a.cfg.Home, 0o755); err != nil {
				return fmt.Errorf("failed to create home directory: %w", err)
			}
			if err := config.WriteFile(path, a.cfg); err != nil {
				return err
			}

			a.logger.Info("initialized churnwatch", zap.String("home", a.cfg.Home), zap.String("config", path))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}
