package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittocache/internal/cli/prompt"
	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/pkg/config"
	"github.com/marmos91/dittocache/pkg/disk/block"
)

var purgeForce bool

var purgeCmd = &cobra.Command{
	Use:   "purge <region>",
	Short: "Delete every element a region stored on disk",
	Long: `Empty a region's block file and key index.

The server must not be running. To clear a region on a running server use
DELETE /regions/{name}/keys on the admin API instead.

Examples:
  # Purge with confirmation
  dittocache purge users

  # Purge without prompting
  dittocache purge users --force`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVarP(&purgeForce, "force", "f", false, "Skip confirmation prompt")
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	logger.InitWithWriter(cmd.ErrOrStderr(), "WARN", logger.FormatText, false)

	rc := cfg.Region(args[0])
	if !purgeForce {
		ok, err := prompt.ConfirmDanger(
			fmt.Sprintf("Delete all disk data of region %q in %s?", rc.Name, rc.Disk.Path), rc.Name)
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	b, err := block.Open(ctx, rc.BlockOptions())
	if err != nil {
		return fmt.Errorf("failed to open region %q: %w", rc.Name, err)
	}
	size := b.Size()
	if err := b.RemoveAll(ctx); err != nil {
		_ = b.Dispose(ctx)
		return fmt.Errorf("failed to purge region %q: %w", rc.Name, err)
	}
	if err := b.Dispose(ctx); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged region %q (%d elements)\n", rc.Name, size)
	return nil
}
