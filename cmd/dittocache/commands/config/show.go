package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittocache/internal/cli/output"
	"github.com/marmos91/dittocache/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective dittocache configuration, defaults included.

Examples:
  # Show as YAML
  dittocache config show

  # Show as JSON
  dittocache config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.NewPrinter(cmd.OutOrStdout(), format).Print(cfg)
}
