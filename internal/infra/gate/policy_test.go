package gate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tutu-network/convoy/internal/domain"
)

const testPolicy = `
max_attempts: 2
require_checker_spec: [validator]
rules:
  - id: freeze-wi9
    action: deny
    roles: [remediator]
    work_items: ["WI-9*"]
    reason: release freeze
  - id: high-risk
    action: warn
    risk_levels: [high]
  - id: translators
    action: allow
    roles: [translator]
`

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	p, err := ParsePolicy([]byte(testPolicy))
	if err != nil {
		t.Fatalf("ParsePolicy() error: %v", err)
	}
	return NewEvaluator(p, nil)
}

func TestEvaluate(t *testing.T) {
	e := newTestEvaluator(t)
	spec := &domain.CheckerSpec{ID: "s", RiskLevel: "high"}

	tests := []struct {
		name       string
		gc         domain.GateContext
		want       domain.GateStatus
		reason     string
		wantWarned bool
	}{
		{
			name: "translator allowed",
			gc:   domain.GateContext{Task: &domain.Task{ID: "t", Type: domain.TaskTranslate}, Role: domain.RoleTranslator},
			want: domain.GateAuthorized, reason: "translators",
		},
		{
			name: "attempts exhausted",
			gc:   domain.GateContext{Task: &domain.Task{ID: "t", Attempts: 2}, Role: domain.RoleTranslator},
			want: domain.GateDenied, reason: "attempt budget",
		},
		{
			name: "frozen work item",
			gc:   domain.GateContext{Task: &domain.Task{ID: "t", WorkItemID: "WI-91"}, Role: domain.RoleRemediator, CheckerSpec: &domain.CheckerSpec{}},
			want: domain.GateDenied, reason: "release freeze",
		},
		{
			name: "other work item not frozen",
			gc:   domain.GateContext{Task: &domain.Task{ID: "t", WorkItemID: "WI-1"}, Role: domain.RoleRemediator, CheckerSpec: &domain.CheckerSpec{}},
			want: domain.GateAuthorized,
		},
		{
			name: "validator without spec",
			gc:   domain.GateContext{Task: &domain.Task{ID: "t", WorkItemID: "WI-1"}, Role: domain.RoleValidator},
			want: domain.GateDenied, reason: "requires a CheckerSpec",
		},
		{
			name:       "translator without spec only warns",
			gc:         domain.GateContext{Task: &domain.Task{ID: "t", WorkItemID: "WI-1"}, Role: domain.RoleTranslator},
			want:       domain.GateAuthorized,
			wantWarned: true,
		},
		{
			name:       "high risk warns",
			gc:         domain.GateContext{Task: &domain.Task{ID: "t", WorkItemID: "WI-1"}, Role: domain.RoleValidator, CheckerSpec: spec},
			want:       domain.GateAuthorized,
			wantWarned: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := e.Evaluate(context.Background(), domain.GatePreDispatch, tt.gc)
			if err != nil {
				t.Fatalf("Evaluate() error: %v", err)
			}
			if dec.Status != tt.want {
				t.Errorf("status = %s, want %s (reasons %v)", dec.Status, tt.want, dec.Reasons)
			}
			if dec.Gate != domain.GatePreDispatch {
				t.Errorf("gate = %q", dec.Gate)
			}
			if tt.reason != "" && !strings.Contains(strings.Join(dec.Reasons, ";"), tt.reason) {
				t.Errorf("reasons %v should mention %q", dec.Reasons, tt.reason)
			}
			if tt.wantWarned != (len(dec.Warnings) > 0) {
				t.Errorf("warnings = %v, want warned=%v", dec.Warnings, tt.wantWarned)
			}
		})
	}
}

func TestEvaluate_RequiresTask(t *testing.T) {
	e := NewEvaluator(nil, nil)
	if _, err := e.Evaluate(context.Background(), domain.GatePreDispatch, domain.GateContext{}); err == nil {
		t.Error("Evaluate() without task should fail")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Evaluate(ctx, domain.GatePreDispatch, domain.GateContext{Task: &domain.Task{}}); err == nil {
		t.Error("Evaluate() with cancelled context should fail")
	}
}

func TestEvaluate_EmptyPolicyUsesTaskBudget(t *testing.T) {
	e := NewEvaluator(nil, nil)
	dec, _ := e.Evaluate(context.Background(), domain.GatePreDispatch, domain.GateContext{Task: &domain.Task{Attempts: 3}})
	if dec.Authorized() {
		t.Error("default budget of 3 attempts should be enforced")
	}
	dec, _ = e.Evaluate(context.Background(), domain.GatePreDispatch, domain.GateContext{Task: &domain.Task{Attempts: 3, MaxAttempts: 5}})
	if !dec.Authorized() {
		t.Errorf("task MaxAttempts should raise the budget: %v", dec.Reasons)
	}
}

func TestParsePolicy_Invalid(t *testing.T) {
	bad := []string{
		"rules:\n  - action: deny\n",
		"rules:\n  - id: a\n    action: maybe\n",
		"rules:\n  - id: a\n    action: deny\n  - id: a\n    action: warn\n",
		"max_attempts: -1\n",
		"rules: [",
	}
	for _, doc := range bad {
		if _, err := ParsePolicy([]byte(doc)); err == nil {
			t.Errorf("ParsePolicy(%q) should fail", doc)
		}
	}
}

func TestLoadPolicyFile(t *testing.T) {
	p, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil || p == nil || len(p.Rules) != 0 {
		t.Errorf("missing file = %+v, %v", p, err)
	}

	path := filepath.Join(t.TempDir(), "gate.yaml")
	if err := os.WriteFile(path, []byte(testPolicy), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err = LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile() error: %v", err)
	}
	if len(p.Rules) != 3 || p.MaxAttempts != 2 {
		t.Errorf("policy = %+v", p)
	}
}

func TestAllowAll(t *testing.T) {
	dec, err := AllowAll{}.Evaluate(context.Background(), domain.GatePreDispatch, domain.GateContext{})
	if err != nil || !dec.Authorized() {
		t.Errorf("AllowAll = %+v, %v", dec, err)
	}
}
