// Package cmd implements the CLI commands for opsgate.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xdg/opsgate/internal/clog"
	"github.com/xdg/opsgate/internal/config"
	"github.com/xdg/opsgate/internal/version"
)

// Persistent flags.
var (
	configPath string
	debugLog   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "opsgate",
	Short: "Confirmation-gated command execution gateway",
	Long: `Opsgate lets a single operator run shell commands, remote SSH commands,
and HTTP requests from a chat client or the terminal.

Every command passes a safety denylist, is written to an audit log, and only
runs after the operator confirms it within a short time window.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/opsgate/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")
}

// Execute runs the root command and returns any error.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogging configures clog from cfg. --debug overrides log.level.
func setupLogging(cfg *config.Config, daemonMode bool) error {
	level, err := clog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if debugLog {
		level = clog.LevelDebug
	}
	if err := clog.Configure(cfg.Log.File, level, daemonMode); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	return nil
}
