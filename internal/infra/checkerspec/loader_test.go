package checkerspec

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSpec(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "WI-1.yaml", `
id: button-spec
description: primary button
risk_level: low
checks:
  - name: visual-diff
    kind: pixel
    threshold: 0.02
    required: true
  - name: a11y
    kind: axe
`)

	spec, err := NewDir(dir).Load("WI-1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if spec == nil {
		t.Fatal("Load() returned nil")
	}
	if spec.ID != "button-spec" || spec.WorkItemID != "WI-1" {
		t.Errorf("id/work item = %s/%s", spec.ID, spec.WorkItemID)
	}
	if len(spec.Checks) != 2 || spec.Checks[0].Threshold != 0.02 || !spec.Checks[0].Required {
		t.Errorf("checks = %+v", spec.Checks)
	}
}

func TestLoad_JSONAndYml(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "WI-2.yml", "checks: []\n")
	writeSpec(t, dir, "WI-3.json", `{"work_item_id":"WI-3","checks":[{"name":"lint","kind":"eslint"}]}`)

	l := NewDir(dir)
	for _, id := range []string{"WI-2", "WI-3"} {
		spec, err := l.Load(id)
		if err != nil || spec == nil {
			t.Errorf("Load(%s) = %v, %v", id, spec, err)
			continue
		}
		if spec.ID != id {
			t.Errorf("Load(%s).ID = %q, want defaulted to work item", id, spec.ID)
		}
	}
}

func TestLoad_Missing(t *testing.T) {
	spec, err := NewDir(t.TempDir()).Load("WI-404")
	if err != nil || spec != nil {
		t.Errorf("Load(missing) = %v, %v; want nil, nil", spec, err)
	}
	spec, err = NewDir(filepath.Join(t.TempDir(), "nope")).Load("WI-1")
	if err != nil || spec != nil {
		t.Errorf("Load(missing dir) = %v, %v; want nil, nil", spec, err)
	}
}

func TestLoad_Rejections(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "WI-bad.yaml", "checks:\n  - kind: pixel\n")
	writeSpec(t, dir, "WI-dup.yaml", "checks:\n  - name: a\n  - name: a\n")
	writeSpec(t, dir, "WI-other.yaml", "work_item_id: WI-9\n")
	writeSpec(t, dir, "WI-empty.yaml", "  \n")

	l := NewDir(dir)
	for _, id := range []string{"WI-bad", "WI-dup", "WI-other", "WI-empty", "../etc", ".hidden", ""} {
		if _, err := l.Load(id); err == nil {
			t.Errorf("Load(%q) should fail", id)
		}
	}
}
