package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/app/convoy"
	"github.com/tutu-network/convoy/internal/daemon"
)

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileAutoChain, "auto-chain", false, "Create validate/remediate stages for finished tasks")
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileAutoChain bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Apply completed hook results to their tasks",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	rep, err := d.Convoy.Reconcile(cmd.Context(), convoy.ReconcileOptions{AutoChain: reconcileAutoChain})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), rep)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "completed %d, failed %d, retried %d, chained %d, skipped %d\n",
		len(rep.Completed), len(rep.Failed), len(rep.Retried), len(rep.Chained), rep.Skipped)
	return nil
}
