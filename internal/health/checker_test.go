package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tutu-network/convoy/internal/infra/hookfs"
	"github.com/tutu-network/convoy/internal/infra/metrics"
	"github.com/tutu-network/convoy/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestHooks(t *testing.T, db *sqlite.DB) *hookfs.Manager {
	t.Helper()
	m, err := hookfs.New(hookfs.Config{Root: filepath.Join(t.TempDir(), "hooks")}, db)
	if err != nil {
		t.Fatalf("hookfs.New() error: %v", err)
	}
	return m
}

func statusOf(t *testing.T, c *Checker, name string) Status {
	t.Helper()
	for _, s := range c.Statuses() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("check %q not found in statuses", name)
	return Status{}
}

type failingPinger struct{}

func (failingPinger) Ping() error { return errors.New("database is locked") }

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	db := newTestDB(t)
	hooks := newTestHooks(t, db)

	if c := NewChecker(db, hooks, "", nil); len(c.checks) != 2 {
		t.Errorf("checks = %d, want 2", len(c.checks))
	}
	if c := NewChecker(db, hooks, t.TempDir(), nil); len(c.checks) != 3 {
		t.Errorf("checks with checker dir = %d, want 3", len(c.checks))
	}
}

func TestChecker_RunOnceHealthy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, newTestHooks(t, db), t.TempDir(), nil)
	c.RunOnce(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
	if got := testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("sqlite")); got != 1 {
		t.Errorf("sqlite health gauge = %v, want 1", got)
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, newTestHooks(t, db), "", nil)

	// No statuses yet, so vacuously healthy.
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run")
	}
}

func TestChecker_HookLayoutRecovers(t *testing.T) {
	db := newTestDB(t)
	hooks := newTestHooks(t, db)
	if err := os.RemoveAll(filepath.Join(hooks.Root(), "active")); err != nil {
		t.Fatal(err)
	}

	before := testutil.ToFloat64(metrics.HealthRecoveries.WithLabelValues("hook_layout"))
	c := NewChecker(db, hooks, "", nil)
	c.RunOnce(context.Background())

	s := statusOf(t, c, "hook_layout")
	if !s.Healthy || !s.Recovered {
		t.Errorf("hook_layout = %+v, want healthy after recovery", s)
	}
	if _, err := os.Stat(filepath.Join(hooks.Root(), "active")); err != nil {
		t.Errorf("active dir not recreated: %v", err)
	}
	if got := testutil.ToFloat64(metrics.HealthRecoveries.WithLabelValues("hook_layout")); got != before+1 {
		t.Errorf("recoveries = %v, want %v", got, before+1)
	}
}

func TestChecker_UnhealthyDatabase(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(failingPinger{}, newTestHooks(t, db), "", nil)
	c.RunOnce(context.Background())

	s := statusOf(t, c, "sqlite")
	if s.Healthy || s.Error != "database is locked" {
		t.Errorf("sqlite = %+v", s)
	}
	if c.IsHealthy() {
		t.Error("IsHealthy() should be false with a failing check")
	}
	if got := testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("sqlite")); got != 0 {
		t.Errorf("sqlite health gauge = %v, want 0", got)
	}
}

func TestChecker_MissingCheckerDir(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, newTestHooks(t, db), filepath.Join(t.TempDir(), "nope"), nil)
	c.RunOnce(context.Background())

	if s := statusOf(t, c, "checker_specs"); s.Healthy {
		t.Errorf("checker_specs = %+v, want unhealthy", s)
	}
}

func TestChecker_StatusesIsCopy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, newTestHooks(t, db), "", nil)
	c.RunOnce(context.Background())

	s := c.Statuses()
	s[0].Healthy = false
	if !c.Statuses()[0].Healthy {
		t.Error("mutating Statuses() result leaked into the checker")
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, newTestHooks(t, db), "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	if len(c.Statuses()) != 2 {
		t.Errorf("Run should check once on start, statuses = %d", len(c.Statuses()))
	}
}
