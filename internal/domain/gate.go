// Package domain: admission control and checker spec types.
// Both are produced by external collaborators and treated as opaque input.
package domain

// GateStatus is the outcome of a gate evaluation.
type GateStatus string

const (
	GateAuthorized GateStatus = "AUTHORIZED"
	GateDenied     GateStatus = "DENIED"
)

// GatePreDispatch is the gate evaluated before every sling.
const GatePreDispatch = "pre_dispatch"

// GateDecision is returned by a GateEvaluator.
type GateDecision struct {
	Gate     string     `json:"gate"`
	Status   GateStatus `json:"status"`
	Reasons  []string   `json:"reasons,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
}

// Authorized reports whether the dispatch may proceed.
func (d GateDecision) Authorized() bool { return d.Status == GateAuthorized }

// GateContext is the input of a gate evaluation.
type GateContext struct {
	Task        *Task        `json:"task"`
	Role        Role         `json:"role"`
	CheckerSpec *CheckerSpec `json:"checker_spec,omitempty"`
}

// CheckerSpec defines how a work item's output is verified.
type CheckerSpec struct {
	ID          string  `json:"id" yaml:"id"`
	WorkItemID  string  `json:"work_item_id" yaml:"work_item_id"`
	Description string  `json:"description,omitempty" yaml:"description"`
	RiskLevel   string  `json:"risk_level,omitempty" yaml:"risk_level"`
	Checks      []Check `json:"checks" yaml:"checks"`
}

// Check is a single verification rule in a CheckerSpec.
type Check struct {
	Name      string  `json:"name" yaml:"name"`
	Kind      string  `json:"kind" yaml:"kind"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold"`
	Required  bool    `json:"required" yaml:"required"`
}
