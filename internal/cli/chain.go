package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/daemon"
	"github.com/tutu-network/convoy/internal/domain"
)

func init() {
	chainCmd.Flags().StringVar(&chainArtifact, "artifact", "", "Artifact JSON for validation, or @file")
	chainCmd.Flags().StringSliceVar(&chainFailures, "failure", nil, "Validation failure to remediate (repeatable)")
	rootCmd.AddCommand(chainCmd)
}

var (
	chainArtifact string
	chainFailures []string
)

var chainCmd = &cobra.Command{
	Use:   "chain validate|remediate TASK",
	Short: "Create the next pipeline stage for a task",
	Long: `Create the next stage of the translate → validate → remediate pipeline.

  convoy chain validate TASK --artifact @out.json   validate a translation
  convoy chain remediate TASK --failure "..."       remediate a validation

The new task is blocked by TASK and joins its convoy.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"validate", "remediate"},
	RunE:      runChain,
}

func runChain(cmd *cobra.Command, args []string) error {
	stage, taskID := args[0], args[1]

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	var task *domain.Task
	switch stage {
	case "validate":
		artifact, err := readInput(chainArtifact)
		if err != nil {
			return err
		}
		task, err = d.Convoy.ChainToValidation(cmd.Context(), taskID, artifact)
		if err != nil {
			return err
		}
	case "remediate":
		task, err = d.Convoy.ChainToRemediation(cmd.Context(), taskID, chainFailures)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown stage %q (want validate or remediate)", stage)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), task)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s task %s blocked by %s (%s)\n", task.Type, task.ID, taskID, task.Status)
	return nil
}
