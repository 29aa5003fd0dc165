// Package gate implements the pre-dispatch admission check as a YAML policy.
//
// A policy is a list of rules. Every rule that matches the task under
// evaluation contributes: any matching deny rule denies (deny wins), warn
// rules add warnings, allow rules are recorded as reasons. A task with no
// matching rule is authorized.
//
//	max_attempts: 3
//	require_checker_spec: [validator]
//	rules:
//	  - id: freeze-remediation
//	    action: deny
//	    roles: [remediator]
//	    work_items: ["WI-9*"]
//	    reason: remediation frozen for release
package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/metrics"
)

// Action is the effect of a matching rule.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionWarn  Action = "warn"
)

// Rule matches tasks by role, type, work item and risk level. Empty
// selectors match everything.
type Rule struct {
	ID         string   `yaml:"id"`
	Action     Action   `yaml:"action"`
	Roles      []string `yaml:"roles"`
	TaskTypes  []string `yaml:"task_types"`
	WorkItems  []string `yaml:"work_items"`
	RiskLevels []string `yaml:"risk_levels"`
	Reason     string   `yaml:"reason"`
}

// Policy is the parsed policy document.
type Policy struct {
	// MaxAttempts denies a task whose attempts already reached it. Zero
	// falls back to the task's own MaxAttempts.
	MaxAttempts int `yaml:"max_attempts"`

	// RequireCheckerSpec lists roles that are denied without a CheckerSpec.
	// Other roles only get a warning.
	RequireCheckerSpec []string `yaml:"require_checker_spec"`

	Rules []Rule `yaml:"rules"`
}

// Validate checks rule ids and actions.
func (p *Policy) Validate() error {
	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		if r.ID == "" {
			return fmt.Errorf("gate: rule %d has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("gate: duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		switch r.Action {
		case ActionAllow, ActionDeny, ActionWarn:
		default:
			return fmt.Errorf("gate: rule %q: invalid action %q", r.ID, r.Action)
		}
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("gate: max_attempts must not be negative")
	}
	return nil
}

// ParsePolicy decodes a YAML policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if len(bytes.TrimSpace(data)) == 0 {
		return &p, nil
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("gate: decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicyFile reads a policy from path. A missing file yields the empty
// policy, which authorizes everything within the task's attempt budget.
func LoadPolicyFile(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Policy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gate: read %s: %w", path, err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ─── Evaluator ──────────────────────────────────────────────────────────────

// Evaluator is a domain.GateEvaluator backed by a Policy.
type Evaluator struct {
	policy *Policy
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. A nil policy authorizes everything.
func NewEvaluator(p *Policy, logger *slog.Logger) *Evaluator {
	if p == nil {
		p = &Policy{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{policy: p, logger: logger.With(slog.String("component", "gate"))}
}

// Evaluate implements domain.GateEvaluator.
func (e *Evaluator) Evaluate(ctx context.Context, gate string, gc domain.GateContext) (domain.GateDecision, error) {
	if err := ctx.Err(); err != nil {
		return domain.GateDecision{}, err
	}
	if gc.Task == nil {
		return domain.GateDecision{}, fmt.Errorf("gate: task is required")
	}
	dec := domain.GateDecision{Gate: gate, Status: domain.GateAuthorized}
	var denials []string

	if limit := e.attemptLimit(gc.Task); gc.Task.Attempts >= limit {
		denials = append(denials, fmt.Sprintf("attempt budget exhausted (%d/%d)", gc.Task.Attempts, limit))
	}

	if gc.CheckerSpec == nil && gc.Task.WorkItemID != "" {
		if slices.Contains(e.policy.RequireCheckerSpec, string(gc.Role)) {
			denials = append(denials, fmt.Sprintf("role %s requires a CheckerSpec for work item %s", gc.Role, gc.Task.WorkItemID))
		} else {
			dec.Warnings = append(dec.Warnings, fmt.Sprintf("no CheckerSpec for work item %s", gc.Task.WorkItemID))
		}
	}

	for _, r := range e.policy.Rules {
		if !r.matches(gc) {
			continue
		}
		switch r.Action {
		case ActionDeny:
			denials = append(denials, r.describe("denied"))
		case ActionWarn:
			dec.Warnings = append(dec.Warnings, r.describe("warning"))
		case ActionAllow:
			dec.Reasons = append(dec.Reasons, r.describe("allowed"))
		}
	}

	if len(denials) > 0 {
		dec.Status = domain.GateDenied
		dec.Reasons = denials
	}
	metrics.GateDecisions.WithLabelValues(gate, string(dec.Status)).Inc()
	e.logger.Debug("gate evaluated",
		slog.String("gate", gate),
		slog.String("task_id", gc.Task.ID),
		slog.String("status", string(dec.Status)),
		slog.Int("warnings", len(dec.Warnings)))
	return dec, nil
}

func (e *Evaluator) attemptLimit(t *domain.Task) int {
	if e.policy.MaxAttempts > 0 {
		return e.policy.MaxAttempts
	}
	if t.MaxAttempts > 0 {
		return t.MaxAttempts
	}
	return domain.DefaultMaxAttempts
}

func (r Rule) matches(gc domain.GateContext) bool {
	risk := ""
	if gc.CheckerSpec != nil {
		risk = gc.CheckerSpec.RiskLevel
	}
	return matchAny(r.Roles, string(gc.Role)) &&
		matchAny(r.TaskTypes, string(gc.Task.Type)) &&
		matchAny(r.WorkItems, gc.Task.WorkItemID) &&
		matchAny(r.RiskLevels, risk)
}

func (r Rule) describe(verb string) string {
	if r.Reason != "" {
		return fmt.Sprintf("%s by rule %q: %s", verb, r.ID, r.Reason)
	}
	return fmt.Sprintf("%s by rule %q", verb, r.ID)
}

// matchAny reports whether value matches one of patterns. An empty pattern
// list matches everything. Supports exact names, "*" and "prefix*".
func matchAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		switch {
		case p == "*", p == value:
			return true
		case strings.HasSuffix(p, "*") && value != "" && strings.HasPrefix(value, strings.TrimSuffix(p, "*")):
			return true
		}
	}
	return false
}

// ─── Allow All ──────────────────────────────────────────────────────────────

// AllowAll authorizes every dispatch. Used when the gate is disabled.
type AllowAll struct{}

// Evaluate implements domain.GateEvaluator.
func (AllowAll) Evaluate(_ context.Context, gate string, _ domain.GateContext) (domain.GateDecision, error) {
	metrics.GateDecisions.WithLabelValues(gate, string(domain.GateAuthorized)).Inc()
	return domain.GateDecision{Gate: gate, Status: domain.GateAuthorized, Reasons: []string{"gate disabled"}}, nil
}
