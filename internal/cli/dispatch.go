package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/daemon"
)

func init() {
	dispatchCmd.Flags().StringVar(&dispatchRole, "role", "", "Only dispatch tasks of this role (default: all roles)")
	dispatchCmd.Flags().IntVar(&dispatchMax, "max", 4, "Maximum tasks dispatched concurrently")
	dispatchCmd.Flags().BoolVar(&slingSkipGate, "skip-gate", false, "Dispatch without asking the gate")
	dispatchCmd.Flags().BoolVar(&slingSkipSpec, "skip-checker-spec", false, "Dispatch even when a work item has no CheckerSpec")
	rootCmd.AddCommand(dispatchCmd)
}

var (
	dispatchRole string
	dispatchMax  int
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch CONVOY",
	Short: "Dispatch every ready task of a convoy in parallel",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatch,
}

func runDispatch(cmd *cobra.Command, args []string) error {
	role, err := parseRole(dispatchRole)
	if err != nil {
		return err
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	results, err := d.Convoy.SlingParallel(cmd.Context(), args[0], role, dispatchMax, slingOptions())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), results)
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No ready tasks.")
		return nil
	}
	dispatched := 0
	for _, res := range results {
		if res.Success {
			dispatched++
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %s → %s\n", res.TaskID, res.HookID)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rejected   %s: %s %s\n", res.TaskID, res.Code, res.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d ready tasks dispatched\n", dispatched, len(results))
	return nil
}
