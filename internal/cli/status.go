package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/daemon"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:     "status [CONVOY]",
	Aliases: []string{"ls"},
	Short:   "List convoys, or show the tasks of one convoy",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if len(args) == 0 {
		return listConvoys(cmd, d)
	}

	id := args[0]
	comp, err := d.Convoy.CheckConvoyCompletion(id)
	if err != nil {
		return err
	}
	tasks, err := d.Convoy.Tasks(id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"completion": comp, "tasks": tasks})
	}

	c, err := d.Convoy.Convoy(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Convoy %s (%s) %s\n", c.ID, c.Name, c.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", progressLine(comp.Progress, c.CreatedAt, time.Now()))
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tTYPE\tCOMPONENT\tSTATUS\tATTEMPTS\tBLOCKED BY")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.Type, t.ComponentID, t.Status, t.Attempts, strings.Join(t.BlockedBy, ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(comp.Blockers) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Blocked or failed: %s\n", strings.Join(comp.Blockers, ", "))
	}
	return nil
}

func listConvoys(cmd *cobra.Command, d *daemon.Daemon) error {
	convoys, err := d.Convoy.ListConvoys()
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), convoys)
	}
	if len(convoys) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No convoys. Run 'convoy create -f manifest.yaml' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTASKS\tCREATED")
	for _, c := range convoys {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			c.ID, c.Name, c.Status, len(c.TaskIDs), c.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
