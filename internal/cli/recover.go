package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/daemon"
)

func init() {
	rootCmd.AddCommand(recoverCmd)
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Return orphaned active hooks to pending",
	Long: `Move every active hook back to pending and purge stale staging
directories. Only run this when no worker on this hook tree is alive;
'convoy serve' does it on startup.`,
	Args: cobra.NoArgs,
	RunE: runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	recovered, err := d.Recover()
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), recovered)
	}
	for _, h := range recovered {
		fmt.Fprintf(cmd.OutOrStdout(), "recovered %s (recoveries: %d)\n", h.ID, h.Record.Recoveries)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d hooks recovered\n", len(recovered))
	return nil
}
