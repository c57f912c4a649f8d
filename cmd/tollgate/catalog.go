package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the model catalog",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a model catalog file",
	Long: `Load and validate a model catalog file and print its models.

Without a file argument the catalog path from the config file is used.

Examples:
  # Validate the configured catalog
  tollgate catalog validate

  # Validate a specific file as JSON
  tollgate catalog validate models.yaml -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCatalogValidate,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
		if err != nil {
			return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
		}
		path = cfg.Catalog.Path
	}

	models, err := catalog.LoadFile(path)
	if err != nil {
		return cli.NewCommandError("catalog validate", err)
	}
	return f.FormatTo(cmd.OutOrStdout(), modelTable(models))
}

func modelTable(models []catalog.Model) *cli.Table {
	t := &cli.Table{Headers: []string{"ID", "PROVIDER", "STATUS", "INPUT/TOKEN", "OUTPUT/TOKEN", "CURRENCY", "CAPABILITIES", "FALLBACKS"}}
	for _, m := range models {
		t.Append(
			m.ID,
			m.Provider,
			string(m.Status),
			strconv.FormatFloat(m.InputCostPerToken, 'g', -1, 64),
			strconv.FormatFloat(m.OutputCostPerToken, 'g', -1, 64),
			m.Currency,
			strings.Join(m.Capabilities, ","),
			strings.Join(m.Fallbacks, ","),
		)
	}
	return t
}
