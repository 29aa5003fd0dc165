package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/daemon"
	"github.com/tutu-network/convoy/internal/domain"
)

func init() {
	hooksCmd.Flags().StringVar(&hooksState, "state", "", "Only list hooks in pending, active or complete")
	rootCmd.AddCommand(hooksCmd)
}

var hooksState string

var hooksCmd = &cobra.Command{
	Use:   "hooks [HOOK]",
	Short: "List hooks, or show one hook",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHooks,
}

func runHooks(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if len(args) == 1 {
		return showHook(cmd, d, args[0])
	}

	states := domain.HookStates
	if hooksState != "" {
		states = []domain.HookState{domain.HookState(hooksState)}
	}
	listed := make(map[domain.HookState][]string, len(states))
	for _, s := range states {
		ids, err := d.Hooks.List(s)
		if err != nil {
			return err
		}
		listed[s] = ids
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), listed)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tHOOK")
	for _, s := range states {
		for _, id := range listed[s] {
			fmt.Fprintf(w, "%s\t%s\n", s, id)
		}
	}
	return w.Flush()
}

func showHook(cmd *cobra.Command, d *daemon.Daemon, id string) error {
	hook, err := d.Hooks.CheckHook(id)
	if err != nil {
		return err
	}
	if hook == nil {
		return fmt.Errorf("%w: %s", domain.ErrHookNotFound, id)
	}
	view := map[string]any{"hook": hook}
	if hook.State == domain.HookStateComplete {
		res, err := d.Hooks.ReadResult(id)
		if err != nil {
			return err
		}
		view["result"] = res
	}
	return printJSON(cmd.OutOrStdout(), view)
}
