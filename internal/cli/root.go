// Package cli implements the convoy command-line interface using Cobra.
// Each subcommand maps to one orchestrator, hook or worker operation.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "convoy: durable hook dispatch for episodic workers",
	Long: `convoy turns design components into dependency-ordered tasks, dispatches
ready tasks through an admission gate into filesystem hooks, and lets
short-lived workers claim, run and complete those hooks.

State lives in $CONVOY_HOME (default ~/.convoy): config.toml, the ledger
database and the hook tree.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	// Interrupting `convoy work` cancels the executor so the hook is handed
	// back instead of being left active.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
