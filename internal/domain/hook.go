// Package domain: hook types.
// A Hook is a durable, directory-backed unit of dispatched work. The
// directory it lives in (pending, active, complete) is its status.
package domain

import (
	"encoding/json"
	"time"
)

// Role names the kind of worker a hook is addressed to.
type Role string

const (
	RoleTranslator Role = "translator"
	RoleValidator  Role = "validator"
	RoleRemediator Role = "remediator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleTranslator, RoleValidator, RoleRemediator:
		return true
	}
	return false
}

// HookState is the on-disk location of a hook.
type HookState string

const (
	HookStatePending  HookState = "pending"
	HookStateActive   HookState = "active"
	HookStateComplete HookState = "complete"
)

// HookStates lists locations in lifecycle order.
var HookStates = []HookState{HookStatePending, HookStateActive, HookStateComplete}

// HookStatus is the status recorded inside status.json. It caches the
// directory location, plus the terminal outcome once complete.
type HookStatus string

const (
	HookPending    HookStatus = "PENDING"
	HookInProgress HookStatus = "IN_PROGRESS"
	HookComplete   HookStatus = "COMPLETE"
	HookFailed     HookStatus = "FAILED"
)

// IsTerminal returns true for COMPLETE and FAILED.
func (s HookStatus) IsTerminal() bool {
	return s == HookComplete || s == HookFailed
}

// HandoffReason explains why a worker yielded a hook.
type HandoffReason string

const (
	HandoffContextLimit HandoffReason = "context_limit"
	HandoffTimeout      HandoffReason = "timeout"
	HandoffError        HandoffReason = "error"
)

// Valid reports whether r is a known handoff reason.
func (r HandoffReason) Valid() bool {
	return r == HandoffContextLimit || r == HandoffTimeout || r == HandoffError
}

// StatusRecord is the content of status.json.
type StatusRecord struct {
	Status        HookStatus     `json:"status"`
	HookID        string         `json:"hook_id"`
	TaskID        string         `json:"task_id"`
	WorkerID      string         `json:"worker_id,omitempty"`
	Role          Role           `json:"role"`
	Assigned      time.Time      `json:"assigned"`
	Started       *time.Time     `json:"started,omitempty"`
	Completed     *time.Time     `json:"completed,omitempty"`
	Recovered     *time.Time     `json:"recovered,omitempty"`
	HandoffAt     *time.Time     `json:"handoffAt,omitempty"`
	HandoffReason HandoffReason  `json:"handoff_reason,omitempty"`
	ResumePoint   string         `json:"resume_point,omitempty"`
	Handoffs      int            `json:"handoffs,omitempty"`
	Recoveries    int            `json:"recoveries,omitempty"`
	Progress      map[string]any `json:"progress,omitempty"`
}

// Hook is a dispatched task plus its role-scoped context.
type Hook struct {
	ID         string               `json:"id"`
	WorkerID   string               `json:"worker_id,omitempty"`
	Role       Role                 `json:"role"`
	Task       *Task                `json:"task"`
	Context    MinimumViableContext `json:"context"`
	Status     HookStatus           `json:"status"`
	State      HookState            `json:"state"`
	AssignedAt time.Time            `json:"assigned_at"`
	Record     StatusRecord         `json:"record"`
}

// HookError describes why a hook failed.
type HookError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Evidence is consumed by external audit; it is not interpreted here.
type Evidence struct {
	InputHash     string    `json:"input_hash"`
	OutputHash    string    `json:"output_hash"`
	Timestamp     time.Time `json:"timestamp"`
	DiffImagePath string    `json:"diff_image_path,omitempty"`
}

// HookResult is written once into result.json and never changed.
type HookResult struct {
	HookID   string          `json:"hook_id"`
	TaskID   string          `json:"task_id"`
	Status   HookStatus      `json:"status"`
	Error    *HookError      `json:"error,omitempty"`
	Evidence Evidence        `json:"evidence"`
	Output   json.RawMessage `json:"output,omitempty"`
}
