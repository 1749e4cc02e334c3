// Package cli implements the churnwatch commands.
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/churnwatch/churnwatch/internal/config"
	"github.com/churnwatch/churnwatch/pkg/logger"
)

// app carries the global flags and what PersistentPreRunE builds from them.
type app struct {
	home       string
	configPath string
	debug      bool
	ephemeral  bool

	cfg    *config.Config
	logger *logger.Logger
}

// NewRootCommand creates the root command for churnwatch
func NewRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "churnwatch",
		Short: "THORChain churn countdown",
		Long: `Churnwatch follows new blocks on a THORChain RPC websocket and the churn
parameters published by Midgard, and reports how long remains until the
next churn.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.home, "home", "", "Home directory (default $CHURNWATCH_HOME or ~/.churnwatch)")
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default <home>/config.toml)")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&a.ephemeral, "ephemeral", false, "Keep churn state in memory instead of the configured store")

	cmd.AddCommand(NewRunCommand(a))
	cmd.AddCommand(NewWatchCommand(a))
	cmd.AddCommand(NewStatusCommand(a))
	cmd.AddCommand(NewInitCommand(a))
	cmd.AddCommand(NewTokenCommand(a))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// load resolves the config file, applies flag overrides and builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	path := a.resolveConfigPath()

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.home != "" {
		cfg.Home = a.home
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	if a.ephemeral {
		cfg.Store.Backend = config.StoreBackendMemory
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Color:      cfg.Log.Color,
		Disable:    cfg.Log.Disable,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.configPath = path
	a.cfg = cfg
	a.logger = log
	return nil
}

func (a *app) resolveConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	home := a.home
	if home == "" {
		home = config.DefaultConfig().Home
	}
	return filepath.Join(home, config.ConfigFileName)
}
