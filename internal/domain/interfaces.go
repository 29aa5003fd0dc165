package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the application layer depends on them.

// EventType names a ledger event.
type EventType string

const (
	EventTaskDispatched EventType = "task_dispatched"
	EventHookActivated  EventType = "hook_activated"
	EventHookCompleted  EventType = "hook_completed"
	EventHookRecovered  EventType = "hook_recovered"
	EventHookHandoff    EventType = "hook_handoff"
	EventHookCleaned    EventType = "hook_cleaned"
	EventConvoyCreated  EventType = "convoy_created"
	EventTaskCreated    EventType = "task_created"
	EventTaskDiscovered EventType = "task_discovered"
	EventGateDenied     EventType = "gate_denied"
)

// Ledger persists ids, events and task status history.
// Implemented by infra/sqlite.DB.
type Ledger interface {
	// GenerateID returns a new hook id; it must start with "<role>-".
	GenerateID(role Role, taskID string) (string, error)

	// LogEvent appends an event to the audit trail.
	LogEvent(eventType EventType, payload map[string]any) error

	// UpdateTaskStatus records a task status transition.
	UpdateTaskStatus(taskID string, status TaskStatus, extra map[string]any) error
}

// CheckerSpecLoader resolves the CheckerSpec attached to a work item.
// Load returns (nil, nil) when no spec exists.
type CheckerSpecLoader interface {
	Load(workItemID string) (*CheckerSpec, error)
}

// GateEvaluator is the external admission control decision point.
type GateEvaluator interface {
	Evaluate(ctx context.Context, gate string, gc GateContext) (GateDecision, error)
}

// TaskStore persists tasks and convoys for the orchestrator.
// Implemented by infra/sqlite.DB.
type TaskStore interface {
	PutTask(t *Task) error
	GetTask(id string) (*Task, error)
	ListTasks(convoyID string) ([]*Task, error)
	PutConvoy(c *Convoy) error
	GetConvoy(id string) (*Convoy, error)
	ListConvoys() ([]*Convoy, error)
}
