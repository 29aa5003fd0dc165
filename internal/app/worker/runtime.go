// Package worker is the episodic worker runtime. Each invocation claims at
// most one pending hook addressed to its role, runs an executor on it and
// records the outcome:
//
//	Startup → ListPending → first "<role>-" hook → ActivateHook
//	  → executor(ctx, hook)
//	    → CompleteHook(result)       finished, successfully or not
//	    → HandoffHook(timeout)       deadline hit, back to pending
//
// The process is expected to exit after Startup returns. Nothing here keeps
// state between invocations; the hook tree is the only memory.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/hookfs"
	"github.com/tutu-network/convoy/internal/infra/metrics"
)

// Error codes written into FAILED results produced by the runtime.
const (
	CodeExecutorError = "EXECUTOR_ERROR"
	CodeExecutorPanic = "EXECUTOR_PANIC"
	CodeHookCorrupt   = "HOOK_CORRUPT"
)

// HookSource is the part of the hook manager a worker uses.
// Implemented by *hookfs.Manager.
type HookSource interface {
	ListPending() ([]string, error)
	ActivateHook(id, workerID string) (bool, error)
	CheckHook(id string) (*domain.Hook, error)
	ContextBytes(id string) ([]byte, error)
	CompleteHook(id string, result domain.HookResult) (bool, error)
	HandoffHook(id string, reason domain.HandoffReason, resumePoint string) (bool, error)
}

// Executor does the actual work of a hook. A returned error is turned into a
// recoverable FAILED result; a returned result with status FAILED is kept as
// is. HookID, TaskID and evidence hashes are filled in when left empty.
type Executor func(ctx context.Context, hook *domain.Hook) (domain.HookResult, error)

// Outcome describes what one Startup did.
type Outcome struct {
	HookID    string             `json:"hook_id"`
	TaskID    string             `json:"task_id"`
	Role      domain.Role        `json:"role"`
	Result    *domain.HookResult `json:"result,omitempty"`
	HandedOff bool               `json:"handed_off,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Duration  time.Duration      `json:"duration"`
}

// Runtime runs hooks of a single role.
type Runtime struct {
	role    domain.Role
	hooks   HookSource
	logger  *slog.Logger
	timeout time.Duration
	clock   func() time.Time
}

// Option customizes the runtime.
type Option func(*Runtime)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTimeout bounds executor run time. When the deadline passes the hook is
// handed off with reason timeout instead of completed. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.timeout = d }
}

// WithClock overrides the time source used for durations.
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New creates a runtime for role.
func New(hooks HookSource, role domain.Role, opts ...Option) (*Runtime, error) {
	if hooks == nil {
		return nil, fmt.Errorf("worker runtime: hook source is required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("worker runtime: %w: %q", domain.ErrUnknownRole, role)
	}
	r := &Runtime{
		role:   role,
		hooks:  hooks,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "worker"), slog.String("role", string(role)))
	return r, nil
}

// Role returns the role this runtime serves.
func (r *Runtime) Role() domain.Role { return r.role }

// Startup claims and runs at most one hook. It returns (nil, nil) when no
// pending hook matches the role, or when another worker won the claim.
func (r *Runtime) Startup(ctx context.Context, workerID string, exec Executor) (*Outcome, error) {
	if exec == nil {
		return nil, domain.ErrExecutorRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := r.hooks.ListPending()
	if err != nil {
		return nil, fmt.Errorf("list pending hooks: %w", err)
	}

	prefix := string(r.role) + "-"
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		ok, err := r.hooks.ActivateHook(id, workerID)
		if ok && err != nil {
			return r.failCorrupt(id, r.clock(), err)
		}
		if err != nil {
			return nil, fmt.Errorf("activate hook %s: %w", id, err)
		}
		if !ok {
			r.logger.Debug("claim lost", slog.String("hook_id", id))
			return nil, nil
		}
		return r.run(ctx, id, exec)
	}
	r.logger.Debug("no pending hook", slog.Int("pending", len(ids)))
	return nil, nil
}

func (r *Runtime) run(ctx context.Context, id string, exec Executor) (*Outcome, error) {
	start := r.clock()
	hook, err := r.hooks.CheckHook(id)
	if err == nil && hook == nil {
		err = fmt.Errorf("%w: %s", domain.ErrHookNotFound, id)
	}
	if err != nil {
		return r.failCorrupt(id, start, err)
	}
	raw, err := r.hooks.ContextBytes(id)
	if err != nil {
		return r.failCorrupt(id, start, err)
	}
	inputHash := hookfs.HashBytes(raw)
	out := &Outcome{HookID: id, TaskID: hook.Record.TaskID, Role: r.role}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	reply, stopped := r.invoke(runCtx, exec, hook)
	if stopped {
		reason := domain.HandoffTimeout
		if ctx.Err() != nil {
			reason = domain.HandoffError
		}
		ok, err := r.hooks.HandoffHook(id, reason, "")
		if err != nil {
			return nil, fmt.Errorf("handoff hook %s: %w", id, err)
		}
		if !ok {
			return nil, fmt.Errorf("handoff hook %s: %w", id, domain.ErrHookNotActive)
		}
		out.HandedOff = true
		out.Reason = string(reason)
		out.Duration = r.clock().Sub(start)
		metrics.WorkerRuns.WithLabelValues(string(r.role), "handoff").Inc()
		r.logger.Warn("executor stopped, hook handed off",
			slog.String("hook_id", id),
			slog.String("reason", string(reason)),
			slog.Duration("timeout", r.timeout))
		return out, nil
	}

	res, execErr := reply.res, reply.err
	if execErr != nil {
		code := CodeExecutorError
		var pe *panicError
		if errors.As(execErr, &pe) {
			code = CodeExecutorPanic
		}
		res = domain.HookResult{
			Status: domain.HookFailed,
			Error:  &domain.HookError{Code: code, Message: execErr.Error(), Recoverable: true},
		}
		r.logger.Error("executor failed", slog.String("hook_id", id), slog.Any("err", execErr))
	}
	res.HookID = id
	if res.TaskID == "" {
		res.TaskID = out.TaskID
	}
	if !res.Status.IsTerminal() {
		res.Status = domain.HookComplete
	}
	if res.Evidence.InputHash == "" {
		res.Evidence.InputHash = inputHash
	}
	if res.Evidence.OutputHash == "" {
		res.Evidence.OutputHash = hookfs.HashBytes(res.Output)
	}

	ok, err := r.hooks.CompleteHook(id, res)
	if err != nil {
		return nil, fmt.Errorf("complete hook %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("complete hook %s: %w", id, domain.ErrHookNotActive)
	}
	out.Result = &res
	out.Duration = r.clock().Sub(start)
	metrics.WorkerRuns.WithLabelValues(string(r.role), strings.ToLower(string(res.Status))).Inc()
	r.logger.Info("hook finished",
		slog.String("hook_id", id),
		slog.String("status", string(res.Status)),
		slog.Duration("duration", out.Duration))
	return out, nil
}

// failCorrupt finishes a claimed hook whose artifacts cannot be read. It is
// completed FAILED and not recoverable: handing it back would only let the
// next worker claim it and fail the same way.
func (r *Runtime) failCorrupt(id string, start time.Time, cause error) (*Outcome, error) {
	_, taskID, _ := hookfs.ParseHookID(id)
	raw, _ := r.hooks.ContextBytes(id)
	res := domain.HookResult{
		HookID: id,
		TaskID: taskID,
		Status: domain.HookFailed,
		Error:  &domain.HookError{Code: CodeHookCorrupt, Message: cause.Error()},
		Evidence: domain.Evidence{
			InputHash:  hookfs.HashBytes(raw),
		},
	}
	r.logger.Error("claimed hook is unreadable, failing it", slog.String("hook_id", id), slog.Any("err", cause))

	ok, err := r.hooks.CompleteHook(id, res)
	if err != nil {
		return nil, fmt.Errorf("fail corrupt hook %s: %w (cause: %v)", id, err, cause)
	}
	if !ok {
		return nil, fmt.Errorf("fail corrupt hook %s: %w", id, domain.ErrHookNotActive)
	}
	metrics.WorkerRuns.WithLabelValues(string(r.role), "failed").Inc()
	return &Outcome{
		HookID:   id,
		TaskID:   taskID,
		Role:     r.role,
		Result:   &res,
		Duration: r.clock().Sub(start),
	}, nil
}

type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("executor panic: %v", p.value) }

type execReply struct {
	res domain.HookResult
	err error
}

// invoke runs exec and converts a panic into an error. stopped reports that
// ctx ended before exec returned; the executor goroutine is abandoned then,
// which is fine for a process that exits after one hook.
func (r *Runtime) invoke(ctx context.Context, exec Executor, hook *domain.Hook) (execReply, bool) {
	done := make(chan execReply, 1)
	go func() {
		var reply execReply
		defer func() {
			if p := recover(); p != nil {
				reply = execReply{err: &panicError{value: p}}
			}
			done <- reply
		}()
		reply.res, reply.err = exec(ctx, hook)
	}()

	select {
	case reply := <-done:
		if ctx.Err() != nil && reply.err != nil && errors.Is(reply.err, ctx.Err()) {
			return execReply{}, true
		}
		return reply, false
	case <-ctx.Done():
		return execReply{}, true
	}
}
