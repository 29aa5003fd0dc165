package hookfs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/sqlite"
)

type specMap map[string]*domain.CheckerSpec

func (s specMap) Load(id string) (*domain.CheckerSpec, error) { return s[id], nil }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m, err := New(Config{Root: filepath.Join(t.TempDir(), "hooks")}, db, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return m, db
}

func translateTask(id string) *domain.Task {
	return &domain.Task{
		ID:     id,
		Type:   domain.TaskTranslate,
		Status: domain.TaskInProgress,
		Input:  json.RawMessage(`{"node":"1:2"}`),
	}
}

func translatorContext(taskID string) domain.MinimumViableContext {
	return domain.NewContext(taskID, &domain.TranslatorContext{
		ComponentID:   "1:2",
		ComponentName: "Button",
		Framework:     "react",
	})
}

func createTestHook(t *testing.T, m *Manager, taskID string) *domain.Hook {
	t.Helper()
	hook, err := m.CreateHook(translateTask(taskID), translatorContext(taskID), domain.RoleTranslator, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateHook() error: %v", err)
	}
	return hook
}

func assertSingleLocation(t *testing.T, m *Manager, id string, want domain.HookState) {
	t.Helper()
	locs, err := m.Locations(id)
	if err != nil {
		t.Fatalf("Locations() error: %v", err)
	}
	if len(locs) != 1 || locs[0] != want {
		t.Fatalf("hook %s locations = %v, want [%s]", id, locs, want)
	}
}

// ─── Construction ───────────────────────────────────────────────────────────

func TestNew_RequiresRootAndLedger(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := New(Config{}, db); err == nil {
		t.Error("New() without root should fail")
	}
	if _, err := New(Config{Root: t.TempDir()}, nil); err == nil {
		t.Error("New() without ledger should fail")
	}
}

func TestNew_CreatesLayout(t *testing.T) {
	m, _ := newTestManager(t)
	for _, dir := range []string{"pending", "active", "complete", ".staging"} {
		if info, err := os.Stat(filepath.Join(m.Root(), dir)); err != nil || !info.IsDir() {
			t.Errorf("%s should exist as a directory", dir)
		}
	}
}

// ─── Create / Check ─────────────────────────────────────────────────────────

func TestCreateHook_WritesPendingArtifacts(t *testing.T) {
	m, db := newTestManager(t)
	hook := createTestHook(t, m, "task-1")

	if !strings.HasPrefix(hook.ID, "translator-task-1-") {
		t.Errorf("ID = %q, want translator-task-1- prefix", hook.ID)
	}
	if hook.Status != domain.HookPending || hook.State != domain.HookStatePending {
		t.Errorf("status/state = %s/%s", hook.Status, hook.State)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStatePending)

	dir := filepath.Join(m.Root(), "pending", hook.ID)
	for _, name := range []string{"task.json", "context.json", "status.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
	if info, err := os.Stat(filepath.Join(dir, "evidence")); err != nil || !info.IsDir() {
		t.Error("evidence/ should exist")
	}
	if _, err := os.Stat(filepath.Join(dir, "result.json")); !os.IsNotExist(err) {
		t.Error("pending hook must not carry result.json")
	}

	staged, _ := os.ReadDir(filepath.Join(m.Root(), ".staging"))
	if len(staged) != 0 {
		t.Errorf("staging should be empty, has %d entries", len(staged))
	}

	events, err := db.Events(domain.EventTaskDispatched, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].HookID != hook.ID {
		t.Errorf("task_dispatched events = %+v", events)
	}
}

func TestCheckHook_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	created := createTestHook(t, m, "task-1")

	got, err := m.CheckHook(created.ID)
	if err != nil {
		t.Fatalf("CheckHook() error: %v", err)
	}
	if got == nil {
		t.Fatal("CheckHook() returned nil")
	}
	if got.ID != created.ID || got.Role != domain.RoleTranslator {
		t.Errorf("got %s/%s", got.ID, got.Role)
	}
	if got.Task.ID != "task-1" || string(got.Task.Input) != `{"node":"1:2"}` {
		t.Errorf("task = %+v", got.Task)
	}
	tc, ok := got.Context.Translator()
	if !ok {
		t.Fatalf("context role = %s, want translator", got.Context.Role())
	}
	if tc.ComponentName != "Button" || tc.Framework != "react" {
		t.Errorf("translator context = %+v", tc)
	}
	if got.Context.TaskID != "task-1" {
		t.Errorf("context task id = %q", got.Context.TaskID)
	}
}

func TestCheckHook_Absent(t *testing.T) {
	m, _ := newTestManager(t)
	got, err := m.CheckHook("translator-none-00000000")
	if err != nil || got != nil {
		t.Errorf("CheckHook(absent) = %v, %v; want nil, nil", got, err)
	}
}

func TestCheckHook_Corrupt(t *testing.T) {
	m, _ := newTestManager(t)
	hook := createTestHook(t, m, "task-1")

	path := filepath.Join(m.Root(), "pending", hook.ID, "status.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := m.CheckHook(hook.ID)
	if !errors.Is(err, domain.ErrHookCorrupt) {
		t.Errorf("err = %v, want ErrHookCorrupt", err)
	}
	if got != nil {
		t.Error("corrupt hook should not be returned")
	}
}

func TestCreateHook_ReservedID(t *testing.T) {
	m, _ := newTestManager(t)
	task := translateTask("t-1")

	id, err := m.NewHookID(domain.RoleTranslator, task.ID)
	if err != nil {
		t.Fatalf("NewHookID() error: %v", err)
	}
	if !strings.HasPrefix(id, "translator-t-1-") {
		t.Errorf("NewHookID() = %q", id)
	}
	hook, err := m.CreateHook(task, translatorContext(task.ID), domain.RoleTranslator, CreateOptions{HookID: id})
	if err != nil {
		t.Fatalf("CreateHook() error: %v", err)
	}
	if hook.ID != id {
		t.Errorf("hook id = %s, want %s", hook.ID, id)
	}
	assertSingleLocation(t, m, id, domain.HookStatePending)

	tests := []struct {
		name string
		id   string
	}{
		{"in use", id},
		{"other task", "translator-t-2-0badc0de"},
		{"other role", "validator-t-1-0badc0de"},
		{"no suffix", "translator-t-1-"},
		{"path", "translator-t-1-../x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.CreateHook(task, translatorContext(task.ID), domain.RoleTranslator, CreateOptions{HookID: tt.id}); err == nil {
				t.Errorf("CreateHook(HookID=%q) should fail", tt.id)
			}
		})
	}
	if n, _ := m.List(domain.HookStatePending); len(n) != 1 {
		t.Errorf("pending = %v, want one hook", n)
	}
}

func TestCreateHook_RoleMismatch(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateHook(translateTask("t"), translatorContext("t"), domain.RoleValidator, CreateOptions{})
	if !errors.Is(err, domain.ErrRoleMismatch) {
		t.Errorf("err = %v, want ErrRoleMismatch", err)
	}
	_, err = m.CreateHook(translateTask("t"), translatorContext("t"), "janitor", CreateOptions{})
	if !errors.Is(err, domain.ErrUnknownRole) {
		t.Errorf("err = %v, want ErrUnknownRole", err)
	}
}

func TestCreateHook_CheckerSpecRequired(t *testing.T) {
	specs := specMap{"WI-1": {ID: "spec-1", WorkItemID: "WI-1"}}
	m, _ := newTestManager(t, WithCheckerSpecs(specs))

	tests := []struct {
		name     string
		workItem string
		skip     bool
		wantErr  bool
	}{
		{"no work item", "", false, false},
		{"spec present", "WI-1", false, false},
		{"spec missing", "WI-2", false, true},
		{"spec missing but skipped", "WI-2", true, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := translateTask("task-" + string(rune('a'+i)))
			task.WorkItemID = tt.workItem
			before, _ := m.ListPending()

			_, err := m.CreateHook(task, translatorContext(task.ID), domain.RoleTranslator,
				CreateOptions{SkipCheckerSpecValidation: tt.skip})
			after, _ := m.ListPending()

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("CreateHook() error: %v", err)
				}
				return
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if ve.Code != domain.CodeCheckerSpecRequired {
				t.Errorf("code = %s", ve.Code)
			}
			if !strings.Contains(err.Error(), "CheckerSpec required") {
				t.Errorf("message = %q", err.Error())
			}
			if len(after) != len(before) {
				t.Error("rejected create must not leave a hook behind")
			}
		})
	}
}

func TestCreateHook_NoLoaderRejectsWorkItem(t *testing.T) {
	m, _ := newTestManager(t)
	task := translateTask("t")
	task.WorkItemID = "WI-9"
	_, err := m.CreateHook(task, translatorContext("t"), domain.RoleTranslator, CreateOptions{})
	if !errors.Is(err, domain.ErrCheckerSpecRequired) {
		t.Errorf("err = %v, want ErrCheckerSpecRequired", err)
	}
}

// ─── Listing ────────────────────────────────────────────────────────────────

func TestCounts(t *testing.T) {
	m, _ := newTestManager(t)
	a := createTestHook(t, m, "a")
	createTestHook(t, m, "b")
	if ok, err := m.ActivateHook(a.ID, "w1"); err != nil || !ok {
		t.Fatalf("ActivateHook() = %v, %v", ok, err)
	}

	counts, err := m.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.HookStatePending] != 1 || counts[domain.HookStateActive] != 1 || counts[domain.HookStateComplete] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestListSkipsHiddenEntries(t *testing.T) {
	m, _ := newTestManager(t)
	createTestHook(t, m, "a")
	if err := os.MkdirAll(filepath.Join(m.Root(), "pending", ".tmp"), 0o755); err != nil {
		t.Fatal(err)
	}
	ids, err := m.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("pending = %v, want 1 visible hook", ids)
	}
}

func TestHashBytes(t *testing.T) {
	if HashBytes(nil) != "" {
		t.Error("empty input should hash to empty string")
	}
	h := HashBytes([]byte("abc"))
	if h != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("HashBytes(abc) = %s", h)
	}
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestParseHookID(t *testing.T) {
	tests := []struct {
		id       string
		wantRole domain.Role
		wantTask string
		wantOK   bool
	}{
		{"translator-task-1-1a2b3c4d", domain.RoleTranslator, "task-1", true},
		{"remediator-t-0badc0de", domain.RoleRemediator, "t", true},
		{"painter-task-1-1a2b3c4d", "", "", false},
		{"validator-1a2b3c4d", "", "", false},
		{"validator-task-", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		role, task, ok := ParseHookID(tt.id)
		if role != tt.wantRole || task != tt.wantTask || ok != tt.wantOK {
			t.Errorf("ParseHookID(%q) = %q, %q, %v", tt.id, role, task, ok)
		}
	}
}
