// Package domain: task and convoy types.
// A Task is a unit of work that flows through the pipeline:
// create → ready → sling (gate + hook) → execute → reconcile → chain.
package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// TaskStatus tracks task lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskReady      TaskStatus = "READY"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskBlocked    TaskStatus = "BLOCKED"
	TaskComplete   TaskStatus = "COMPLETE"
	TaskFailed     TaskStatus = "FAILED"
)

// TaskType is the pipeline stage a task belongs to.
type TaskType string

const (
	TaskTranslate TaskType = "translate"
	TaskValidate  TaskType = "validate"
	TaskRemediate TaskType = "remediate"
)

// DefaultMaxAttempts caps dispatch attempts when a task does not set its own.
const DefaultMaxAttempts = 3

// Task is a node in a convoy's dependency DAG.
type Task struct {
	ID             string          `json:"id"`
	Type           TaskType        `json:"type"`
	Input          json.RawMessage `json:"input,omitempty"`
	ConvoyID       string          `json:"convoy_id,omitempty"`
	ComponentID    string          `json:"component_id,omitempty"`
	BlockedBy      []string        `json:"blocked_by,omitempty"`
	Status         TaskStatus      `json:"status"`
	AssignedWorker string          `json:"assigned_worker,omitempty"`
	HookID         string          `json:"hook_id,omitempty"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	WorkItemID     string          `json:"work_item_id,omitempty"`
	DiscoveredBy   string          `json:"discovered_by,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsTerminal returns true if the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskComplete || t.Status == TaskFailed
}

// Dispatchable reports whether sling may accept the task.
func (t *Task) Dispatchable() bool {
	return t.Status == TaskPending || t.Status == TaskReady
}

// CanRetry reports whether another dispatch attempt is allowed.
func (t *Task) CanRetry() bool {
	max := t.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return t.Attempts < max
}

// Clone returns a deep copy safe to mutate.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.BlockedBy = slices.Clone(t.BlockedBy)
	if t.Input != nil {
		c.Input = slices.Clone(t.Input)
	}
	return &c
}

// RoleFor maps a task type onto the worker role that executes it.
// Unknown types run under the translator role.
func RoleFor(t TaskType) Role {
	switch t {
	case TaskValidate:
		return RoleValidator
	case TaskRemediate:
		return RoleRemediator
	default:
		return RoleTranslator
	}
}

// ─── Convoy ─────────────────────────────────────────────────────────────────

// ConvoyStatus is always derived from member task statuses.
type ConvoyStatus string

const (
	ConvoyPending    ConvoyStatus = "PENDING"
	ConvoyInProgress ConvoyStatus = "IN_PROGRESS"
	ConvoyComplete   ConvoyStatus = "COMPLETE"
	ConvoyFailed     ConvoyStatus = "FAILED"
)

// Convoy is a named batch of related tasks tracked as a unit.
type Convoy struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	TaskIDs   []string     `json:"task_ids"`
	Status    ConvoyStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ConvoyProgress summarizes member task statuses.
type ConvoyProgress struct {
	Pending         int     `json:"pending"`
	Ready           int     `json:"ready"`
	InProgress      int     `json:"in_progress"`
	Blocked         int     `json:"blocked"`
	Failed          int     `json:"failed"`
	Complete        int     `json:"complete"`
	Total           int     `json:"total"`
	PercentComplete float64 `json:"percent_complete"`
}

// ProgressOf tallies tasks into a ConvoyProgress.
func ProgressOf(tasks []*Task) ConvoyProgress {
	var p ConvoyProgress
	for _, t := range tasks {
		switch t.Status {
		case TaskPending:
			p.Pending++
		case TaskReady:
			p.Ready++
		case TaskInProgress:
			p.InProgress++
		case TaskBlocked:
			p.Blocked++
		case TaskFailed:
			p.Failed++
		case TaskComplete:
			p.Complete++
		}
	}
	p.Total = len(tasks)
	if p.Total > 0 {
		p.PercentComplete = float64(p.Complete) * 100 / float64(p.Total)
	}
	return p
}

// DeriveConvoyStatus computes a convoy status from its progress.
func DeriveConvoyStatus(p ConvoyProgress) ConvoyStatus {
	switch {
	case p.Total == 0:
		return ConvoyPending
	case p.Complete == p.Total:
		return ConvoyComplete
	case p.Failed > 0 && p.InProgress == 0 && p.Ready == 0:
		return ConvoyFailed
	case p.InProgress > 0 || p.Complete > 0:
		return ConvoyInProgress
	default:
		return ConvoyPending
	}
}
