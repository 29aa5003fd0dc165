package convoy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/hookfs"
	"github.com/tutu-network/convoy/internal/infra/metrics"
)

// SlingRequest names the task to dispatch.
type SlingRequest struct {
	TaskID   string
	WorkerID string // optional, recorded as the task's assigned worker
}

// SlingOptions relaxes dispatch preconditions.
type SlingOptions struct {
	SkipGate                  bool
	SkipCheckerSpecValidation bool
}

// SlingResult reports a dispatch. Expected rejections (not dispatchable,
// missing CheckerSpec, gate denial) are results with Success false and a
// Code; only environment failures come back as errors.
type SlingResult struct {
	TaskID       string               `json:"task_id"`
	Success      bool                 `json:"success"`
	HookID       string               `json:"hook_id,omitempty"`
	Code         string               `json:"code,omitempty"`
	Error        string               `json:"error,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	GateDecision *domain.GateDecision `json:"gate_decision,omitempty"`
}

// CodeGateDenied marks a result rejected by the gate.
const CodeGateDenied = "GATE_DENIED"

func rejected(taskID string, ve *domain.ValidationError) SlingResult {
	metrics.SlingOutcomes.WithLabelValues("rejected").Inc()
	return SlingResult{TaskID: taskID, Code: ve.Code, Error: ve.Error()}
}

// Sling dispatches one task: readiness is recomputed, the gate is asked for
// pre_dispatch authorization, then the task is marked IN_PROGRESS and a
// pending hook is created for it. A denied or rejected dispatch leaves the
// task untouched and creates no hook. If hook creation fails the task is
// reverted to its previous state.
func (o *Orchestrator) Sling(ctx context.Context, req SlingRequest, opts SlingOptions) (SlingResult, error) {
	if err := ctx.Err(); err != nil {
		return SlingResult{}, err
	}

	o.mu.Lock()
	task, err := o.refreshTaskLocked(req.TaskID)
	o.mu.Unlock()
	if err != nil {
		return SlingResult{}, err
	}
	if !task.Dispatchable() {
		return rejected(task.ID, domain.NewValidationError(domain.CodeNotDispatchable, domain.ErrNotDispatchable,
			"task %s is %s", task.ID, task.Status)), nil
	}
	role := domain.RoleFor(task.Type)

	spec, err := o.loadSpec(task)
	if err != nil {
		return SlingResult{}, err
	}
	if spec == nil && task.WorkItemID != "" && !opts.SkipCheckerSpecValidation {
		return rejected(task.ID, domain.NewValidationError(domain.CodeCheckerSpecRequired, domain.ErrCheckerSpecRequired,
			"no CheckerSpec registered for work item %s", task.WorkItemID)), nil
	}

	if !opts.SkipGate {
		dec, err := o.gate.Evaluate(ctx, domain.GatePreDispatch, domain.GateContext{
			Task:        task.Clone(),
			Role:        role,
			CheckerSpec: spec,
		})
		if err != nil {
			return SlingResult{}, fmt.Errorf("evaluate gate for %s: %w", task.ID, err)
		}
		if !dec.Authorized() {
			metrics.SlingOutcomes.WithLabelValues("denied").Inc()
			o.logEvent(domain.EventGateDenied, map[string]any{
				"task_id": task.ID,
				"gate":    dec.Gate,
				"reasons": dec.Reasons,
			})
			o.logger.Info("dispatch denied", slog.String("task_id", task.ID), slog.Any("reasons", dec.Reasons))
			return SlingResult{
				TaskID:       task.ID,
				Code:         CodeGateDenied,
				Error:        domain.ErrGateDenied.Error(),
				Reason:       joinReasons(dec.Reasons),
				GateDecision: &dec,
			}, nil
		}
	}

	mvc, err := buildContext(task, role, spec)
	if err != nil {
		return SlingResult{}, err
	}

	hookID, err := o.hooks.NewHookID(role, task.ID)
	if err != nil {
		return SlingResult{}, err
	}
	prev, claimed, err := o.claim(task.ID, req.WorkerID, hookID)
	if err != nil {
		return SlingResult{}, err
	}
	if claimed == nil {
		return rejected(task.ID, domain.NewValidationError(domain.CodeNotDispatchable, domain.ErrNotDispatchable,
			"task %s was dispatched concurrently", task.ID)), nil
	}

	hook, err := o.hooks.CreateHook(claimed, mvc, role, hookfs.CreateOptions{
		WorkerID:                  req.WorkerID,
		SkipCheckerSpecValidation: opts.SkipCheckerSpecValidation || spec != nil,
		HookID:                    hookID,
	})
	if err != nil {
		if rerr := o.revert(prev); rerr != nil {
			o.logger.Error("revert after failed hook creation", slog.String("task_id", task.ID), slog.Any("err", rerr))
		}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return rejected(task.ID, ve), nil
		}
		return SlingResult{}, fmt.Errorf("create hook for %s: %w", task.ID, err)
	}

	metrics.SlingOutcomes.WithLabelValues("dispatched").Inc()
	o.logger.Info("task dispatched",
		slog.String("task_id", task.ID),
		slog.String("hook_id", hook.ID),
		slog.String("role", string(role)))
	return SlingResult{TaskID: task.ID, Success: true, HookID: hook.ID}, nil
}

// claim marks a still-dispatchable task IN_PROGRESS before its hook exists,
// so at most one hook is ever in flight per task. The task records hookID
// from this moment on; Reconcile applies only results of that hook, so a
// result left over from an earlier attempt can never touch the new one. It
// returns the previous task state for revert, and a nil claimed task when
// another dispatch won.
func (o *Orchestrator) claim(taskID, workerID, hookID string) (prev, claimed *domain.Task, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	if !task.Dispatchable() {
		return nil, nil, nil
	}
	prev = task.Clone()
	task.Status = domain.TaskInProgress
	task.Attempts++
	task.AssignedWorker = workerID
	task.HookID = hookID
	task.LastError = ""
	if err := o.store.PutTask(task); err != nil {
		return nil, nil, err
	}
	if task.ConvoyID != "" {
		if _, err := o.refreshLocked(task.ConvoyID); err != nil {
			return nil, nil, err
		}
	}
	return prev, task, nil
}

func (o *Orchestrator) revert(prev *domain.Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.store.PutTask(prev); err != nil {
		return err
	}
	if prev.ConvoyID != "" {
		_, err := o.refreshLocked(prev.ConvoyID)
		return err
	}
	return nil
}

// SlingParallel dispatches up to maxConcurrent ready tasks of a convoy at
// once. Readiness is computed when the call starts; tasks that become ready
// while it runs wait for the next call. An empty role dispatches every ready
// task under its own role; otherwise only tasks of that role are taken.
// maxConcurrent must be positive.
func (o *Orchestrator) SlingParallel(ctx context.Context, convoyID string, role domain.Role, maxConcurrent int, opts SlingOptions) ([]SlingResult, error) {
	if maxConcurrent <= 0 {
		return nil, domain.NewValidationError(domain.CodeInvalidLimit, domain.ErrInvalidLimit, "got %d", maxConcurrent)
	}
	o.mu.Lock()
	tasks, err := o.refreshLocked(convoyID)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var ready []*domain.Task
	for _, t := range tasks {
		if t.Status != domain.TaskReady {
			continue
		}
		if role != "" && domain.RoleFor(t.Type) != role {
			continue
		}
		ready = append(ready, t)
	}
	if len(ready) > maxConcurrent {
		ready = ready[:maxConcurrent]
	}
	if len(ready) == 0 {
		return nil, nil
	}

	results := make([]SlingResult, len(ready))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, t := range ready {
		g.Go(func() error {
			res, err := o.Sling(gctx, SlingRequest{TaskID: t.ID}, opts)
			if err != nil {
				return fmt.Errorf("sling %s: %w", t.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	o.logger.Info("parallel dispatch",
		slog.String("convoy_id", convoyID),
		slog.String("role", string(role)),
		slog.Int("tasks", len(ready)))
	return results, nil
}

// ─── Context Building ───────────────────────────────────────────────────────

func (o *Orchestrator) loadSpec(task *domain.Task) (*domain.CheckerSpec, error) {
	if task.WorkItemID == "" || o.specs == nil {
		return nil, nil
	}
	spec, err := o.specs.Load(task.WorkItemID)
	if err != nil {
		return nil, fmt.Errorf("load checker spec %s: %w", task.WorkItemID, err)
	}
	return spec, nil
}

// buildContext extracts from the task input exactly the fields the role
// needs. Translators never see checks; validators never see the raw design.
func buildContext(task *domain.Task, role domain.Role, spec *domain.CheckerSpec) (domain.MinimumViableContext, error) {
	var v domain.RoleContext
	switch role {
	case domain.RoleTranslator:
		var in TranslateInput
		if err := decodeInput(task, &in); err != nil {
			return domain.MinimumViableContext{}, err
		}
		v = &domain.TranslatorContext{
			ComponentID:   firstNonEmpty(in.ComponentID, task.ComponentID),
			ComponentName: in.ComponentName,
			Design:        in.Design,
			Framework:     in.Framework,
			Constraints:   in.Constraints,
		}
	case domain.RoleValidator:
		var in ValidateInput
		if err := decodeInput(task, &in); err != nil {
			return domain.MinimumViableContext{}, err
		}
		v = &domain.ValidatorContext{
			ComponentName: in.ComponentName,
			SourceTaskID:  in.SourceTaskID,
			Artifact:      in.Artifact,
			CheckerSpec:   spec,
		}
	case domain.RoleRemediator:
		var in RemediateInput
		if err := decodeInput(task, &in); err != nil {
			return domain.MinimumViableContext{}, err
		}
		v = &domain.RemediatorContext{
			ComponentName:    in.ComponentName,
			ValidationTaskID: in.ValidationTaskID,
			Artifact:         in.Artifact,
			Failures:         in.Failures,
		}
	default:
		return domain.MinimumViableContext{}, fmt.Errorf("%w: %q", domain.ErrUnknownRole, role)
	}
	return domain.NewContext(task.ID, v), nil
}

func decodeInput(task *domain.Task, dst any) error {
	if len(task.Input) == 0 {
		return nil
	}
	if err := json.Unmarshal(task.Input, dst); err != nil {
		return fmt.Errorf("decode input of task %s: %w", task.ID, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, "; ")
}
