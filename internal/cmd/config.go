package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xdg/opsgate/internal/config"
	"github.com/xdg/opsgate/internal/server"
)

var (
	configInitOperator string
	configInitForce    bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage opsgate's configuration.

The configuration file is stored at ~/.config/opsgate/config.yaml
(or $XDG_CONFIG_HOME/opsgate/config.yaml if XDG_CONFIG_HOME is set).
--config selects another file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective config",
	Long: `Print the effective configuration as YAML, with environment overrides
applied and tokens masked.

If no config file exists, shows the default configuration.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	Args:  cobra.NoArgs,
	Run:   runConfigPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with a new operator token",
	Long: `Create the configuration file with default settings, the given operator,
and a freshly generated token for that operator.

The token is printed once. Clients send it in the ` + server.TokenHeader + ` header.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().StringVar(&configInitOperator, "operator", "", "operator user ID (default \""+config.DefaultOperatorID+"\")")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configShowCmd, configPathCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := config.Marshal(cfg.Masked())
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	_, _ = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) {
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), config.ResolvePath(configPath))
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.ResolvePath(configPath)

	tok, err := config.Init(path, configInitOperator, configInitForce)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Created config at: %s\n", path)
	_, _ = fmt.Fprintf(out, "Operator token: %s\n", tok)
	return nil
}
