package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittocache/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a dittocache configuration file with every default spelled out.

By default the file is created at $XDG_CONFIG_HOME/dittocache/config.yaml.
Use --config to choose another path.

Examples:
  # Create at the default location
  dittocache config init

  # Create at a custom path, replacing an existing file
  dittocache config init --config /etc/dittocache/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var path string
	var err error
	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		path = configFile
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Add regions and adjust defaults in the configuration file")
	_, _ = fmt.Fprintf(out, "  2. Start the server with: dittocache start --config %s\n", path)
	return nil
}
