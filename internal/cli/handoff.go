package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/daemon"
	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/hookfs"
)

func init() {
	handoffCmd.Flags().StringVar(&handoffReason, "reason", string(domain.HandoffContextLimit), "context_limit, timeout or error")
	handoffCmd.Flags().StringVar(&handoffResume, "resume", "", "Where the next worker should pick up")
	handoffCmd.Flags().StringVar(&handoffProgress, "progress", "", "Progress JSON object to merge, or @file")
	rootCmd.AddCommand(handoffCmd)
}

var (
	handoffReason   string
	handoffResume   string
	handoffProgress string
)

var handoffCmd = &cobra.Command{
	Use:   "handoff HOOK",
	Short: "Yield an active hook back to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runHandoff,
}

func runHandoff(cmd *cobra.Command, args []string) error {
	req := hookfs.HandoffRequest{
		Reason:      domain.HandoffReason(handoffReason),
		ResumePoint: handoffResume,
	}
	raw, err := readInput(handoffProgress)
	if err != nil {
		return err
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &req.Progress); err != nil {
			return fmt.Errorf("progress must be a JSON object: %w", err)
		}
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	ok, err := d.Hooks.HandoffWithProgress(args[0], req)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrHookNotActive, args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Handed off %s (%s)\n", args[0], req.Reason)
	return nil
}
