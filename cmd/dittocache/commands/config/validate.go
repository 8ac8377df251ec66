package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittocache/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dittocache configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  dittocache config validate

  # Validate specific config file
  dittocache config validate --config /etc/dittocache/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if !cfg.API.Enabled && cfg.Metrics.Enabled {
		warnings = append(warnings, "metrics are enabled but the API server that serves /metrics is disabled")
	}
	for _, name := range regionNames(cfg) {
		rc := cfg.Region(name)
		if rc.DiskEnabled() && rc.Disk.KeyIndex == "memory" {
			warnings = append(warnings, fmt.Sprintf("region %q: disk contents are discarded on restart with the memory key index", name))
		}
		if rc.MaxObjects != nil && *rc.MaxObjects == 0 && !rc.DiskEnabled() {
			warnings = append(warnings, fmt.Sprintf("region %q: max_objects is 0 without a disk tier, nothing will be cached", name))
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Regions:         %d\n", len(cfg.Regions))
	_, _ = fmt.Fprintf(out, "  API enabled:     %t (port %d)\n", cfg.API.Enabled, cfg.API.Port)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}

func regionNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Regions))
	for _, rc := range cfg.Regions {
		names = append(names, rc.Name)
	}
	return names
}
