package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with the configuration file",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file, apply TOLLGATE_* environment overrides
and validate the result, including seeded budgets.

Examples:
  tollgate config validate --config /etc/tollgate/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	for _, s := range cfg.Budgets {
		if _, err := budgetFromSeed(s); err != nil {
			return cli.NewConfigError("budgets", err.Error())
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration %s is valid\n", cfgFile)
	fmt.Fprintf(out, "  listen:   %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "  storage:  %s\n", cfg.Storage.Backend)
	fmt.Fprintf(out, "  catalog:  %s\n", cfg.Catalog.Path)
	fmt.Fprintf(out, "  ingress:  %t\n", cfg.Ingress.Enabled)
	fmt.Fprintf(out, "  budgets:  %d\n", len(cfg.Budgets))
	return nil
}
