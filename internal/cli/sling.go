package cli

import (
	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/app/convoy"
	"github.com/tutu-network/convoy/internal/daemon"
)

func init() {
	slingCmd.Flags().StringVar(&slingWorker, "worker-id", "", "Worker to record as assigned")
	slingCmd.Flags().BoolVar(&slingSkipGate, "skip-gate", false, "Dispatch without asking the gate")
	slingCmd.Flags().BoolVar(&slingSkipSpec, "skip-checker-spec", false, "Dispatch even when the work item has no CheckerSpec")
	rootCmd.AddCommand(slingCmd)
}

var (
	slingWorker   string
	slingSkipGate bool
	slingSkipSpec bool
)

var slingCmd = &cobra.Command{
	Use:   "sling TASK",
	Short: "Dispatch one ready task into a hook",
	Args:  cobra.ExactArgs(1),
	RunE:  runSling,
}

func runSling(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Convoy.Sling(cmd.Context(),
		convoy.SlingRequest{TaskID: args[0], WorkerID: slingWorker},
		slingOptions())
	if err != nil {
		return err
	}
	return printSling(cmd.OutOrStdout(), res)
}

func slingOptions() convoy.SlingOptions {
	return convoy.SlingOptions{SkipGate: slingSkipGate, SkipCheckerSpecValidation: slingSkipSpec}
}
