package convoy

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/metrics"
)

// ReconcileOptions controls what Reconcile does beyond applying results.
type ReconcileOptions struct {
	// AutoChain creates the next pipeline stage for finished tasks: a
	// completed translate chains to validation with its output as artifact,
	// and a completed validate whose output reports failures chains to
	// remediation.
	AutoChain bool
}

// ReconcileReport summarizes one Reconcile pass.
type ReconcileReport struct {
	Completed []string `json:"completed,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	Retried   []string `json:"retried,omitempty"`
	Chained   []string `json:"chained,omitempty"`
	Skipped   int      `json:"skipped"`
	Convoys   []string `json:"convoys,omitempty"`
}

// ValidationOutput is the output a validator is expected to produce.
type ValidationOutput struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

// Reconcile folds the results of completed hooks back into task state. A
// task is only touched while it is IN_PROGRESS on the hook that produced the
// result, so running Reconcile repeatedly is harmless. A recoverable failure
// with attempts left returns the task to PENDING for another dispatch.
func (o *Orchestrator) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	var rep ReconcileReport
	ids, err := o.hooks.List(domain.HookStateComplete)
	if err != nil {
		return rep, err
	}

	type finished struct {
		task   *domain.Task
		output json.RawMessage
	}
	type candidate struct {
		hookID string
		res    *domain.HookResult
	}

	// Results are read without the lock: complete/ keeps every hook until
	// cleanup, and most of them belong to tasks that moved on long ago.
	var pending []candidate
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := o.hooks.ReadResult(id)
		if err != nil {
			o.logger.Warn("unreadable hook result", slog.String("hook_id", id), slog.Any("err", err))
			rep.Skipped++
			continue
		}
		if res == nil || res.TaskID == "" {
			rep.Skipped++
			continue
		}
		task, err := o.store.GetTask(res.TaskID)
		if err != nil || !appliesTo(task, id) {
			rep.Skipped++
			continue
		}
		pending = append(pending, candidate{hookID: id, res: res})
	}

	var done []finished
	touched := make(map[string]bool)

	o.mu.Lock()
	for _, c := range pending {
		id, res := c.hookID, c.res
		// Re-read under the lock: a Sling may have moved the task on since.
		task, err := o.store.GetTask(res.TaskID)
		if err != nil || !appliesTo(task, id) {
			rep.Skipped++
			continue
		}

		switch {
		case res.Status == domain.HookComplete:
			task.Status = domain.TaskComplete
			task.LastError = ""
			rep.Completed = append(rep.Completed, task.ID)
			done = append(done, finished{task: task.Clone(), output: res.Output})
		case res.Error != nil && res.Error.Recoverable && task.CanRetry():
			task.Status = domain.TaskPending
			task.LastError = res.Error.Message
			task.AssignedWorker = ""
			rep.Retried = append(rep.Retried, task.ID)
		default:
			task.Status = domain.TaskFailed
			if res.Error != nil {
				task.LastError = res.Error.Message
			}
			rep.Failed = append(rep.Failed, task.ID)
		}
		if err := o.store.PutTask(task); err != nil {
			o.mu.Unlock()
			return rep, err
		}
		o.recordStatus(task.ID, task.Status, map[string]any{"hook_id": id, "reconciled": true})
		metrics.TasksReconciled.WithLabelValues(string(task.Status)).Inc()
		if task.ConvoyID != "" {
			touched[task.ConvoyID] = true
		}
	}
	for convoyID := range touched {
		if _, err := o.refreshLocked(convoyID); err != nil {
			o.mu.Unlock()
			return rep, err
		}
		rep.Convoys = append(rep.Convoys, convoyID)
	}
	o.mu.Unlock()
	slices.Sort(rep.Convoys)

	if opts.AutoChain {
		for _, f := range done {
			next, err := o.chainNext(ctx, f.task, f.output)
			if err != nil {
				return rep, err
			}
			if next != nil {
				rep.Chained = append(rep.Chained, next.ID)
			}
		}
	}

	if n := len(rep.Completed) + len(rep.Failed) + len(rep.Retried); n > 0 {
		o.logger.Info("reconciled hook results",
			slog.Int("completed", len(rep.Completed)),
			slog.Int("failed", len(rep.Failed)),
			slog.Int("retried", len(rep.Retried)),
			slog.Int("chained", len(rep.Chained)))
	}
	return rep, nil
}

// appliesTo reports whether the result of hookID may change task: only the
// hook of the attempt currently in flight counts.
func appliesTo(task *domain.Task, hookID string) bool {
	return task.Status == domain.TaskInProgress && task.HookID == hookID
}

func (o *Orchestrator) chainNext(ctx context.Context, task *domain.Task, output json.RawMessage) (*domain.Task, error) {
	switch task.Type {
	case domain.TaskTranslate:
		return o.ChainToValidation(ctx, task.ID, output)
	case domain.TaskValidate:
		var out ValidationOutput
		if len(output) == 0 || json.Unmarshal(output, &out) != nil {
			return nil, nil
		}
		if out.Passed || len(out.Failures) == 0 {
			return nil, nil
		}
		return o.ChainToRemediation(ctx, task.ID, out.Failures)
	}
	return nil, nil
}
