package commands

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittocache/internal/cli/output"
	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/pkg/config"
	"github.com/marmos91/dittocache/pkg/disk/block"
)

var (
	inspectOutput string
	inspectKeys   bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <region>",
	Short: "Inspect a region's disk files",
	Long: `Open a region's block file and key index and print their statistics.

Only regions with a persistent key index (disk.key_index: badger) can be
inspected; a memory index does not survive the process that wrote it.
The server must not be running, since the key index is opened exclusively.

Examples:
  # Show block file statistics
  dittocache inspect users

  # Also list the stored keys, as JSON
  dittocache inspect users --keys --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "table", "Output format (table|json|yaml)")
	inspectCmd.Flags().BoolVar(&inspectKeys, "keys", false, "List stored keys")
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(inspectOutput)
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	logger.InitWithWriter(cmd.ErrOrStderr(), "WARN", logger.FormatText, false)

	rc := cfg.Region(args[0])
	if rc.Disk.KeyIndex != block.IndexBadger {
		return fmt.Errorf("region %q uses a %s key index; only %s indexes can be inspected",
			rc.Name, rc.Disk.KeyIndex, block.IndexBadger)
	}

	ctx := context.Background()
	b, err := block.Open(ctx, rc.BlockOptions())
	if err != nil {
		return fmt.Errorf("failed to open region %q: %w", rc.Name, err)
	}
	defer func() { _ = b.Dispose(ctx) }()

	p := output.NewPrinter(cmd.OutOrStdout(), format)

	if !inspectKeys {
		if format == output.FormatTable {
			return p.Print(output.StatsTable{Stats: b.Stats()})
		}
		return p.Print(b.Stats())
	}

	keys, err := b.Keys(ctx)
	if err != nil {
		return err
	}
	slices.Sort(keys)
	if format != output.FormatTable {
		return p.Print(keys)
	}

	t := output.NewTable("Key", "Size")
	for _, k := range keys {
		e, err := b.Get(ctx, k)
		if err != nil {
			t.AddRow(k, "unreadable: "+err.Error())
			continue
		}
		t.AddRow(k, len(e.Value))
	}
	return p.Print(t)
}
