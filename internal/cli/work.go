package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/app/worker"
	"github.com/tutu-network/convoy/internal/daemon"
	"github.com/tutu-network/convoy/internal/domain"
)

func init() {
	workCmd.Flags().StringVar(&workRole, "role", "", "Worker role (default: worker.role)")
	workCmd.Flags().StringVar(&workWorkerID, "worker-id", "", "Worker identity (default: hostname-pid)")
	workCmd.Flags().DurationVar(&workTimeout, "timeout", 0, "Hand the hook off after this long (default: worker.timeout)")
	rootCmd.AddCommand(workCmd)
}

var (
	workRole     string
	workWorkerID string
	workTimeout  time.Duration
)

var workCmd = &cobra.Command{
	Use:   "work -- COMMAND [ARGS...]",
	Short: "Claim one pending hook and run COMMAND on it",
	Long: `Run one worker episode: claim the first pending hook for the role, pipe
the hook JSON into COMMAND, and record its stdout as the result.

A non-zero exit marks the result FAILED; exit status 75 asks for a retry.
When the timeout passes the hook is handed back to pending instead.

  convoy work --role validator -- ./validate.sh`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWork,
}

func runWork(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	role, err := parseRole(firstNonEmpty(workRole, d.Config.Worker.Role))
	if err != nil {
		return err
	}
	rt, err := d.Worker(role, workTimeout)
	if err != nil {
		return err
	}

	workerID := workWorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	out, err := rt.Startup(cmd.Context(), workerID, worker.ExecCommand(args[0], args[1:]...))
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), out)
	}
	w := cmd.OutOrStdout()
	switch {
	case out == nil:
		fmt.Fprintf(w, "No pending %s hooks\n", role)
	case out.HandedOff:
		fmt.Fprintf(w, "Handed off %s after %s (%s)\n", out.HookID, out.Duration.Round(time.Millisecond), out.Reason)
	case out.Result != nil && out.Result.Status == domain.HookFailed:
		return fmt.Errorf("hook %s failed: %s", out.HookID, failureMessage(out.Result))
	default:
		fmt.Fprintf(w, "Completed %s in %s\n", out.HookID, out.Duration.Round(time.Millisecond))
	}
	return nil
}

func failureMessage(res *domain.HookResult) string {
	if res.Error == nil {
		return "no error reported"
	}
	return fmt.Sprintf("%s: %s", res.Error.Code, res.Error.Message)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
