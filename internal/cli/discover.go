package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/app/convoy"
	"github.com/tutu-network/convoy/internal/daemon"
	"github.com/tutu-network/convoy/internal/domain"
)

func init() {
	discoverCmd.Flags().StringVar(&discoverType, "type", "", "Task type (default: type of the discovering task)")
	discoverCmd.Flags().StringVar(&discoverInput, "input", "", "Task input JSON, or @file")
	discoverCmd.Flags().StringVar(&discoverWorkItem, "work-item", "", "Work item id (default: inherited)")
	rootCmd.AddCommand(discoverCmd)
}

var (
	discoverType     string
	discoverInput    string
	discoverWorkItem string
)

var discoverCmd = &cobra.Command{
	Use:   "discover TASK",
	Short: "Register work found while running TASK",
	Long: `Add a task to TASK's convoy. The new task is blocked by TASK, so it never
starts before the work that found it has completed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	input, err := readInput(discoverInput)
	if err != nil {
		return err
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	task, err := d.Convoy.AddDiscoveredTask(cmd.Context(), args[0], convoy.DiscoveredTask{
		Type:       domain.TaskType(discoverType),
		Input:      input,
		WorkItemID: discoverWorkItem,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), task)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Discovered %s task %s (blocked by %s)\n", task.Type, task.ID, args[0])
	return nil
}
