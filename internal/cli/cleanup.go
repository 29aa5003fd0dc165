package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/daemon"
)

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "Delete complete hooks older than this (default: hooks.retention)")
	rootCmd.AddCommand(cleanupCmd)
}

var cleanupMaxAge time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old completed hooks",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	maxAge := cleanupMaxAge
	if maxAge == 0 {
		maxAge = d.Config.Retention()
	}
	n, err := d.Hooks.CleanupCompletedHooks(maxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed hooks older than %s\n", n, maxAge)
	return nil
}
