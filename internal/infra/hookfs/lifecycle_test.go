package hookfs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/convoy/internal/domain"
)

func completeResult(id string) domain.HookResult {
	return domain.HookResult{
		HookID: id,
		Status: domain.HookComplete,
		Evidence: domain.Evidence{
			InputHash:  HashBytes([]byte("in")),
			OutputHash: HashBytes([]byte("out")),
		},
		Output: json.RawMessage(`{"code":"<Button/>"}`),
	}
}

// ─── Activate ───────────────────────────────────────────────────────────────

func TestActivateHook(t *testing.T) {
	m, db := newTestManager(t)
	hook := createTestHook(t, m, "task-1")

	ok, err := m.ActivateHook(hook.ID, "worker-1")
	if err != nil || !ok {
		t.Fatalf("ActivateHook() = %v, %v", ok, err)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStateActive)

	got, err := m.CheckHook(hook.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.HookInProgress || got.WorkerID != "worker-1" || got.Record.Started == nil {
		t.Errorf("record = %+v", got.Record)
	}

	history, _ := db.TaskHistory("task-1")
	if len(history) != 1 || history[0].Status != domain.TaskInProgress {
		t.Errorf("task history = %+v", history)
	}
}

func TestActivateHook_NotPendingIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	hook := createTestHook(t, m, "task-1")
	if ok, _ := m.ActivateHook(hook.ID, "w1"); !ok {
		t.Fatal("first activation should succeed")
	}
	statusPath := filepath.Join(m.Root(), "active", hook.ID, "status.json")
	before, _ := os.ReadFile(statusPath)

	ok, err := m.ActivateHook(hook.ID, "w2")
	if err != nil || ok {
		t.Errorf("second ActivateHook() = %v, %v; want false, nil", ok, err)
	}
	after, _ := os.ReadFile(statusPath)
	if string(before) != string(after) {
		t.Error("failed activation must not mutate the hook")
	}

	ok, err = m.ActivateHook("translator-ghost-00000000", "w1")
	if err != nil || ok {
		t.Errorf("ActivateHook(absent) = %v, %v", ok, err)
	}
}

func TestActivateHook_ConcurrentClaimHasOneWinner(t *testing.T) {
	m, _ := newTestManager(t)
	hook := createTestHook(t, m, "task-1")

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := m.ActivateHook(hook.ID, "w")
			if err != nil {
				t.Errorf("ActivateHook() error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners = %d, want 1", wins)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStateActive)
}

// ─── Complete ───────────────────────────────────────────────────────────────

func TestCompleteHook(t *testing.T) {
	m, db := newTestManager(t)
	hook := createTestHook(t, m, "task-1")
	m.ActivateHook(hook.ID, "w1")

	ok, err := m.CompleteHook(hook.ID, completeResult(hook.ID))
	if err != nil || !ok {
		t.Fatalf("CompleteHook() = %v, %v", ok, err)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStateComplete)

	res, err := m.ReadResult(hook.ID)
	if err != nil || res == nil {
		t.Fatalf("ReadResult() = %v, %v", res, err)
	}
	if res.TaskID != "task-1" || res.Status != domain.HookComplete {
		t.Errorf("result = %+v", res)
	}
	if res.Evidence.Timestamp.IsZero() {
		t.Error("evidence timestamp should be stamped")
	}

	dir := filepath.Join(m.Root(), "complete", hook.ID, "evidence")
	in, _ := readText(filepath.Join(dir, "input-hash.txt"))
	out, _ := readText(filepath.Join(dir, "output-hash.txt"))
	if in != HashBytes([]byte("in")) || out != HashBytes([]byte("out")) {
		t.Errorf("evidence files = %q / %q", in, out)
	}

	got, _ := m.CheckHook(hook.ID)
	if got.Status != domain.HookComplete || got.Record.Completed == nil {
		t.Errorf("record = %+v", got.Record)
	}

	history, _ := db.TaskHistory("task-1")
	if last := history[len(history)-1]; last.Status != domain.TaskComplete {
		t.Errorf("last task status = %s", last.Status)
	}
}

func TestCompleteHook_Failed(t *testing.T) {
	m, db := newTestManager(t)
	hook := createTestHook(t, m, "task-1")
	m.ActivateHook(hook.ID, "w1")

	res := domain.HookResult{
		HookID: hook.ID,
		Status: domain.HookFailed,
		Error:  &domain.HookError{Code: "EXECUTION_ERROR", Message: "boom", Recoverable: true},
	}
	if ok, err := m.CompleteHook(hook.ID, res); err != nil || !ok {
		t.Fatalf("CompleteHook() = %v, %v", ok, err)
	}
	got, _ := m.ReadResult(hook.ID)
	if got.Error == nil || got.Error.Message != "boom" || !got.Error.Recoverable {
		t.Errorf("error = %+v", got.Error)
	}
	history, _ := db.TaskHistory("task-1")
	if last := history[len(history)-1]; last.Status != domain.TaskFailed {
		t.Errorf("last task status = %s", last.Status)
	}
}

func TestCompleteHook_UnreadableStatus(t *testing.T) {
	m, _ := newTestManager(t)
	hook := createTestHook(t, m, "task-4")
	m.ActivateHook(hook.ID, "w1")
	if err := os.WriteFile(filepath.Join(m.Root(), "active", hook.ID, "status.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	if ok, err := m.CompleteHook(hook.ID, completeResult(hook.ID)); err == nil || ok {
		t.Errorf("COMPLETE over unreadable status = %v, %v, want error", ok, err)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStateActive)

	ok, err := m.CompleteHook(hook.ID, domain.HookResult{
		Status: domain.HookFailed,
		Error:  &domain.HookError{Code: "HOOK_CORRUPT", Message: "bad status"},
	})
	if err != nil || !ok {
		t.Fatalf("FAILED over unreadable status = %v, %v", ok, err)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStateComplete)
	if res, _ := m.ReadResult(hook.ID); res == nil || res.TaskID != "task-4" {
		t.Errorf("result = %+v, want task id from hook id", res)
	}
}

func TestCompleteHook_Rejections(t *testing.T) {
	m, _ := newTestManager(t)
	hook := createTestHook(t, m, "task-1")

	ok, err := m.CompleteHook(hook.ID, completeResult(hook.ID))
	if err != nil || ok {
		t.Errorf("complete on pending = %v, %v; want false, nil", ok, err)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStatePending)

	m.ActivateHook(hook.ID, "w1")

	res := completeResult(hook.ID)
	res.Status = domain.HookInProgress
	if _, err := m.CompleteHook(hook.ID, res); !errors.Is(err, domain.ErrNonTerminal) {
		t.Errorf("err = %v, want ErrNonTerminal", err)
	}
	if _, err := m.CompleteHook(hook.ID, completeResult("translator-other-00000000")); !errors.Is(err, domain.ErrResultMismatch) {
		t.Errorf("err = %v, want ErrResultMismatch", err)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStateActive)

	if r, _ := m.ReadResult(hook.ID); r != nil {
		t.Error("ReadResult on active hook should be nil")
	}
}

// ─── Recover ────────────────────────────────────────────────────────────────

func TestRecoverOrphanedHooks(t *testing.T) {
	m, db := newTestManager(t)
	a := createTestHook(t, m, "a")
	b := createTestHook(t, m, "b")
	c := createTestHook(t, m, "c")
	m.ActivateHook(a.ID, "w1")
	m.ActivateHook(b.ID, "w2")
	m.ActivateHook(c.ID, "w3")
	m.CompleteHook(c.ID, completeResult(c.ID))

	// Simulate a crash after result.json landed but before the rename.
	if err := writeJSON(filepath.Join(m.Root(), "active", b.ID, "result.json"), completeResult(b.ID)); err != nil {
		t.Fatal(err)
	}

	recovered, err := m.RecoverOrphanedHooks()
	if err != nil {
		t.Fatalf("RecoverOrphanedHooks() error: %v", err)
	}
	if len(recovered) != 2 {
		t.Fatalf("recovered = %d, want 2", len(recovered))
	}
	for _, h := range recovered {
		if h.Status != domain.HookPending || h.Record.Recovered == nil || h.Record.Recoveries != 1 {
			t.Errorf("recovered record = %+v", h.Record)
		}
		if h.WorkerID != "" {
			t.Errorf("worker should be cleared, got %q", h.WorkerID)
		}
		assertSingleLocation(t, m, h.ID, domain.HookStatePending)
		if _, err := os.Stat(filepath.Join(m.Root(), "pending", h.ID, "result.json")); !os.IsNotExist(err) {
			t.Errorf("%s: pending hook must not carry result.json", h.ID)
		}
	}
	assertSingleLocation(t, m, c.ID, domain.HookStateComplete)

	again, err := m.RecoverOrphanedHooks()
	if err != nil || len(again) != 0 {
		t.Errorf("second recovery = %d, %v; want 0, nil", len(again), err)
	}

	events, _ := db.Events(domain.EventHookRecovered, 0)
	if len(events) != 2 {
		t.Errorf("hook_recovered events = %d, want 2", len(events))
	}
}

func TestRecoverOrphanedHooks_PurgesStaleStaging(t *testing.T) {
	now := time.Now()
	m, _ := newTestManager(t, WithClock(fixedClock(now)))

	stale := filepath.Join(m.Root(), ".staging", "translator-x-11111111")
	fresh := filepath.Join(m.Root(), ".staging", "translator-y-22222222")
	for _, dir := range []string{stale, fresh} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	old := now.Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	if _, err := m.RecoverOrphanedHooks(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale staging dir should be purged")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh staging dir should survive")
	}
}

// ─── Handoff ────────────────────────────────────────────────────────────────

func TestHandoffHook(t *testing.T) {
	m, _ := newTestManager(t)
	hook := createTestHook(t, m, "task-1")
	m.ActivateHook(hook.ID, "w1")

	ok, err := m.HandoffWithProgress(hook.ID, HandoffRequest{
		Reason:      domain.HandoffContextLimit,
		ResumePoint: "step-3",
		Progress:    map[string]any{"files": 2.0},
	})
	if err != nil || !ok {
		t.Fatalf("HandoffWithProgress() = %v, %v", ok, err)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStatePending)

	got, _ := m.CheckHook(hook.ID)
	rec := got.Record
	if rec.HandoffAt == nil || rec.HandoffReason != domain.HandoffContextLimit || rec.ResumePoint != "step-3" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Handoffs != 1 || rec.Progress["files"] != 2.0 {
		t.Errorf("handoffs/progress = %d/%v", rec.Handoffs, rec.Progress)
	}
	if rec.WorkerID != "" || rec.Started != nil {
		t.Error("handoff should release the worker")
	}

	// A second worker can pick it up and hand it off again.
	m.ActivateHook(hook.ID, "w2")
	if ok, err := m.HandoffHook(hook.ID, domain.HandoffTimeout, "step-4"); err != nil || !ok {
		t.Fatalf("HandoffHook() = %v, %v", ok, err)
	}
	got, _ = m.CheckHook(hook.ID)
	if got.Record.Handoffs != 2 || got.Record.ResumePoint != "step-4" || got.Record.Progress["files"] != 2.0 {
		t.Errorf("record after second handoff = %+v", got.Record)
	}
}

func TestHandoffHook_Rejections(t *testing.T) {
	m, _ := newTestManager(t)
	hook := createTestHook(t, m, "task-1")

	if ok, err := m.HandoffHook(hook.ID, domain.HandoffError, ""); err != nil || ok {
		t.Errorf("handoff on pending = %v, %v; want false, nil", ok, err)
	}
	m.ActivateHook(hook.ID, "w1")
	if _, err := m.HandoffHook(hook.ID, "bored", ""); !errors.Is(err, domain.ErrInvalidHandoff) {
		t.Errorf("err = %v, want ErrInvalidHandoff", err)
	}
	assertSingleLocation(t, m, hook.ID, domain.HookStateActive)
}

// ─── Cleanup ────────────────────────────────────────────────────────────────

func TestCleanupCompletedHooks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-48 * time.Hour)
	m, _ := newTestManager(t, WithClock(func() time.Time { return clock }))

	old := createTestHook(t, m, "old")
	m.ActivateHook(old.ID, "w")
	m.CompleteHook(old.ID, completeResult(old.ID))

	clock = now.Add(-time.Hour)
	recent := createTestHook(t, m, "recent")
	m.ActivateHook(recent.ID, "w")
	m.CompleteHook(recent.ID, completeResult(recent.ID))

	pending := createTestHook(t, m, "pending")

	clock = now
	removed, err := m.CleanupCompletedHooks(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupCompletedHooks() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if got, _ := m.CheckHook(old.ID); got != nil {
		t.Error("old hook should be gone")
	}
	assertSingleLocation(t, m, recent.ID, domain.HookStateComplete)
	assertSingleLocation(t, m, pending.ID, domain.HookStatePending)
}
