// Package convoy builds dependency DAGs of tasks, computes readiness,
// dispatches ready tasks through the gate into hooks, and chains the
// translate → validate → remediate pipeline.
//
// Readiness is pull-based: every operation that depends on it recomputes it
// from the stored task graph. A convoy's status is never set directly; it is
// derived from its tasks each time they change.
package convoy

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/hookfs"
)

// HookDispatcher is the part of the hook manager the orchestrator drives.
// Implemented by *hookfs.Manager.
type HookDispatcher interface {
	NewHookID(role domain.Role, taskID string) (string, error)
	CreateHook(task *domain.Task, mvc domain.MinimumViableContext, role domain.Role, opts hookfs.CreateOptions) (*domain.Hook, error)
	List(state domain.HookState) ([]string, error)
	ReadResult(id string) (*domain.HookResult, error)
}

// Orchestrator owns convoy and task state.
type Orchestrator struct {
	store  domain.TaskStore
	hooks  HookDispatcher
	gate   domain.GateEvaluator
	specs  domain.CheckerSpecLoader
	ledger domain.Ledger
	logger *slog.Logger
	newID  func(prefix string) string

	// mu serializes read-modify-write cycles on the task store. It is never
	// held across gate evaluation or hook creation.
	mu sync.Mutex
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIDGenerator overrides convoy and task id generation.
func WithIDGenerator(gen func(prefix string) string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithCheckerSpecs sets the loader used to attach CheckerSpecs to gate and
// validator contexts.
func WithCheckerSpecs(l domain.CheckerSpecLoader) Option {
	return func(o *Orchestrator) { o.specs = l }
}

// WithLedger sets the ledger that receives convoy-level events.
func WithLedger(l domain.Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// New wires an orchestrator to its store, hook dispatcher and gate.
func New(store domain.TaskStore, hooks HookDispatcher, gate domain.GateEvaluator, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("convoy orchestrator: task store is required")
	}
	if hooks == nil {
		return nil, fmt.Errorf("convoy orchestrator: hook dispatcher is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("convoy orchestrator: gate evaluator is required")
	}
	o := &Orchestrator{
		store:  store,
		hooks:  hooks,
		gate:   gate,
		logger: slog.Default(),
		newID:  defaultID,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("component", "convoy"))
	return o, nil
}

func defaultID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Convoy returns a convoy by id.
func (o *Orchestrator) Convoy(id string) (*domain.Convoy, error) {
	return o.store.GetConvoy(id)
}

// Task returns a task by id.
func (o *Orchestrator) Task(id string) (*domain.Task, error) {
	return o.store.GetTask(id)
}

// Tasks returns the tasks of a convoy in creation order.
func (o *Orchestrator) Tasks(convoyID string) ([]*domain.Task, error) {
	if _, err := o.store.GetConvoy(convoyID); err != nil {
		return nil, err
	}
	return o.store.ListTasks(convoyID)
}

// ListConvoys returns all convoys, newest first.
func (o *Orchestrator) ListConvoys() ([]*domain.Convoy, error) {
	return o.store.ListConvoys()
}

// TaskForComponent returns the translate task created for componentID.
func (o *Orchestrator) TaskForComponent(convoyID, componentID string) (*domain.Task, error) {
	tasks, err := o.Tasks(convoyID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ComponentID == componentID && t.Type == domain.TaskTranslate {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: component %s in convoy %s", domain.ErrTaskNotFound, componentID, convoyID)
}

// Progress recomputes readiness and tallies the convoy's tasks.
func (o *Orchestrator) Progress(convoyID string) (domain.ConvoyProgress, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tasks, err := o.refreshLocked(convoyID)
	if err != nil {
		return domain.ConvoyProgress{}, err
	}
	return domain.ProgressOf(tasks), nil
}

// UpdateTaskStatus sets a task status directly, records it in the ledger and
// recomputes the task's convoy.
func (o *Orchestrator) UpdateTaskStatus(taskID string, status domain.TaskStatus) (*domain.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == status {
		return task, nil
	}
	task.Status = status
	if err := o.store.PutTask(task); err != nil {
		return nil, err
	}
	o.recordStatus(task.ID, status, nil)
	if task.ConvoyID != "" {
		if _, err := o.refreshLocked(task.ConvoyID); err != nil {
			return nil, err
		}
	}
	return o.store.GetTask(taskID)
}

// ─── Readiness ──────────────────────────────────────────────────────────────

// refreshLocked recomputes task readiness and the derived convoy status and
// persists whatever changed. Callers hold o.mu.
func (o *Orchestrator) refreshLocked(convoyID string) ([]*domain.Task, error) {
	c, err := o.store.GetConvoy(convoyID)
	if err != nil {
		return nil, err
	}
	tasks, err := o.store.ListTasks(convoyID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		next, err := o.readiness(t, byID)
		if err != nil {
			return nil, err
		}
		if next == t.Status {
			continue
		}
		t.Status = next
		if err := o.store.PutTask(t); err != nil {
			return nil, err
		}
	}

	status := domain.DeriveConvoyStatus(domain.ProgressOf(tasks))
	if status != c.Status || len(c.TaskIDs) != len(tasks) {
		c.Status = status
		c.TaskIDs = taskIDs(tasks)
		if err := o.store.PutConvoy(c); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// readiness returns the status t should have given its blockers. Only
// waiting tasks (PENDING, READY, BLOCKED) move; the rest keep their status.
// A task is READY only when every blocker is COMPLETE.
func (o *Orchestrator) readiness(t *domain.Task, known map[string]*domain.Task) (domain.TaskStatus, error) {
	switch t.Status {
	case domain.TaskPending, domain.TaskReady, domain.TaskBlocked:
	default:
		return t.Status, nil
	}
	for _, id := range t.BlockedBy {
		b, ok := known[id]
		if !ok {
			var err error
			b, err = o.store.GetTask(id)
			if errors.Is(err, domain.ErrTaskNotFound) {
				return domain.TaskBlocked, nil
			}
			if err != nil {
				return "", err
			}
		}
		if b.Status != domain.TaskComplete {
			return domain.TaskBlocked, nil
		}
	}
	return domain.TaskReady, nil
}

// refreshTaskLocked recomputes readiness for a single task, through its
// convoy when it has one.
func (o *Orchestrator) refreshTaskLocked(taskID string) (*domain.Task, error) {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.ConvoyID != "" {
		if _, err := o.refreshLocked(task.ConvoyID); err != nil {
			return nil, err
		}
		return o.store.GetTask(taskID)
	}
	next, err := o.readiness(task, nil)
	if err != nil {
		return nil, err
	}
	if next != task.Status {
		task.Status = next
		if err := o.store.PutTask(task); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (o *Orchestrator) logEvent(t domain.EventType, payload map[string]any) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.LogEvent(t, payload); err != nil {
		o.logger.Warn("ledger event failed", slog.String("event", string(t)), slog.Any("err", err))
	}
}

func (o *Orchestrator) recordStatus(taskID string, status domain.TaskStatus, extra map[string]any) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.UpdateTaskStatus(taskID, status, extra); err != nil {
		o.logger.Warn("ledger status update failed",
			slog.String("task_id", taskID),
			slog.String("status", string(status)),
			slog.Any("err", err))
	}
}

func taskIDs(tasks []*domain.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
