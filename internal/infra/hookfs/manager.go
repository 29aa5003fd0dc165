// Package hookfs owns the durable lifecycle of hooks on a shared filesystem.
//
// Layout under the configured root:
//
//	pending/<id>/   created, waiting for a worker
//	active/<id>/    claimed by a worker
//	complete/<id>/  finished (COMPLETE or FAILED, see result.json)
//	.staging/<id>/  being written by CreateHook, invisible to readers
//
// A hook lives in exactly one of pending, active, complete at any instant and
// only moves between them by directory rename. The directory a hook sits in
// is its authoritative status; status.json is a cache of it.
package hookfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/metrics"
)

// Config locates the hook tree.
type Config struct {
	Root       string        // hook tree root
	StagingTTL time.Duration // abandoned staging dirs older than this are purged on recovery (default 10m)
}

// DefaultStagingTTL is used when Config.StagingTTL is zero.
const DefaultStagingTTL = 10 * time.Minute

// Manager implements create/check/activate/complete/recover/handoff/cleanup.
type Manager struct {
	cfg    Config
	ledger domain.Ledger
	specs  domain.CheckerSpecLoader
	logger *slog.Logger
	clock  func() time.Time
}

// Option customizes the manager instance.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithCheckerSpecs sets the loader consulted for tasks carrying a work item.
func WithCheckerSpecs(l domain.CheckerSpecLoader) Option {
	return func(m *Manager) { m.specs = l }
}

// New wires a manager to its root directory and ledger and creates the
// directory layout.
func New(cfg Config, ledger domain.Ledger, opts ...Option) (*Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("hook manager: root directory is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("hook manager: ledger is required")
	}
	if cfg.StagingTTL <= 0 {
		cfg.StagingTTL = DefaultStagingTTL
	}
	m := &Manager{
		cfg:    cfg,
		ledger: ledger,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "hookfs"))
	if err := m.EnsureLayout(); err != nil {
		return nil, err
	}
	return m, nil
}

// Root returns the hook tree root.
func (m *Manager) Root() string { return m.cfg.Root }

// EnsureLayout creates the state directories if missing.
func (m *Manager) EnsureLayout() error {
	for _, state := range domain.HookStates {
		if err := os.MkdirAll(m.stateDir(state), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", state, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(m.cfg.Root, stagingDir), 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	return nil
}

// CreateOptions tunes CreateHook.
type CreateOptions struct {
	WorkerID                  string
	SkipCheckerSpecValidation bool

	// HookID publishes the hook under an id obtained earlier from NewHookID.
	// Empty means a fresh id is generated.
	HookID string
}

// NewHookID reserves the id of a hook that is about to be created for task.
// Callers that must record the hook id before the hook exists pass it back
// through CreateOptions.HookID.
func (m *Manager) NewHookID(role domain.Role, taskID string) (string, error) {
	id, err := m.ledger.GenerateID(role, taskID)
	if err != nil {
		return "", fmt.Errorf("generate hook id: %w", err)
	}
	return id, nil
}

// CreateHook durably creates a PENDING hook for task. The hook is assembled
// in the staging area and renamed into pending/ in one step.
//
// Returns a *domain.ValidationError wrapping domain.ErrCheckerSpecRequired
// when the task names a work item without a CheckerSpec.
func (m *Manager) CreateHook(task *domain.Task, mvc domain.MinimumViableContext, role domain.Role, opts CreateOptions) (*domain.Hook, error) {
	if task == nil || task.ID == "" {
		return nil, fmt.Errorf("create hook: task is required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("create hook: %w: %q", domain.ErrUnknownRole, role)
	}
	if r := mvc.Role(); r != "" && r != role {
		return nil, fmt.Errorf("create hook: %w: context %s, hook %s", domain.ErrRoleMismatch, r, role)
	}
	if task.WorkItemID != "" && !opts.SkipCheckerSpecValidation {
		if err := m.requireCheckerSpec(task.WorkItemID); err != nil {
			return nil, err
		}
	}

	id := opts.HookID
	if id == "" {
		var err error
		if id, err = m.NewHookID(role, task.ID); err != nil {
			return nil, err
		}
	} else if err := m.checkReservedID(id, role, task.ID); err != nil {
		return nil, err
	}
	if mvc.TaskID == "" {
		mvc.TaskID = task.ID
	}

	now := m.now()
	rec := domain.StatusRecord{
		Status:   domain.HookPending,
		HookID:   id,
		TaskID:   task.ID,
		WorkerID: opts.WorkerID,
		Role:     role,
		Assigned: now,
	}

	staging := filepath.Join(m.cfg.Root, stagingDir, id)
	if err := os.MkdirAll(filepath.Join(staging, evidenceDir), 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	if err := m.writeArtifacts(staging, task, mvc, rec); err != nil {
		_ = os.RemoveAll(staging)
		return nil, err
	}
	if err := os.Rename(staging, m.hookDir(domain.HookStatePending, id)); err != nil {
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("publish hook %s: %w", id, err)
	}

	m.logEvent(domain.EventTaskDispatched, map[string]any{
		"hook_id":   id,
		"task_id":   task.ID,
		"role":      string(role),
		"worker_id": opts.WorkerID,
	})
	metrics.HooksCreated.WithLabelValues(string(role)).Inc()
	m.logger.Info("hook created",
		slog.String("hook_id", id),
		slog.String("task_id", task.ID),
		slog.String("role", string(role)))

	return &domain.Hook{
		ID:         id,
		WorkerID:   opts.WorkerID,
		Role:       role,
		Task:       task.Clone(),
		Context:    mvc,
		Status:     domain.HookPending,
		State:      domain.HookStatePending,
		AssignedAt: now,
		Record:     rec,
	}, nil
}

// ParseHookID splits "<role>-<taskID>-<suffix>" into role and task id. It
// lets a hook whose artifacts are unreadable still be attributed.
func ParseHookID(id string) (domain.Role, string, bool) {
	role, rest, ok := strings.Cut(id, "-")
	if !ok || !domain.Role(role).Valid() {
		return "", "", false
	}
	i := strings.LastIndex(rest, "-")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return domain.Role(role), rest[:i], true
}

// checkReservedID rejects a caller-supplied id that does not belong to
// role and task, or that is already in use.
func (m *Manager) checkReservedID(id string, role domain.Role, taskID string) error {
	prefix := string(role) + "-" + taskID + "-"
	if !strings.HasPrefix(id, prefix) || len(id) == len(prefix) || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("create hook: id %q does not belong to %s task %s", id, role, taskID)
	}
	locs, err := m.Locations(id)
	if err != nil {
		return err
	}
	staged, err := exists(filepath.Join(m.cfg.Root, stagingDir, id))
	if err != nil {
		return err
	}
	if len(locs) > 0 || staged {
		return fmt.Errorf("create hook: id %s is already in use", id)
	}
	return nil
}

func (m *Manager) requireCheckerSpec(workItemID string) error {
	if m.specs != nil {
		spec, err := m.specs.Load(workItemID)
		if err != nil {
			return fmt.Errorf("load checker spec %s: %w", workItemID, err)
		}
		if spec != nil {
			return nil
		}
	}
	return domain.NewValidationError(domain.CodeCheckerSpecRequired, domain.ErrCheckerSpecRequired,
		"no CheckerSpec registered for work item %s", workItemID)
}

func (m *Manager) writeArtifacts(dir string, task *domain.Task, mvc domain.MinimumViableContext, rec domain.StatusRecord) error {
	if err := writeJSON(filepath.Join(dir, taskFile), task); err != nil {
		return fmt.Errorf("write %s: %w", taskFile, err)
	}
	if err := writeJSON(filepath.Join(dir, contextFile), mvc); err != nil {
		return fmt.Errorf("write %s: %w", contextFile, err)
	}
	if err := writeJSON(filepath.Join(dir, statusFile), rec); err != nil {
		return fmt.Errorf("write %s: %w", statusFile, err)
	}
	return nil
}

// CheckHook looks a hook up in pending, active, then complete.
//
// Returns (nil, nil) when the hook does not exist, and an error wrapping
// domain.ErrHookCorrupt when the directory exists but its artifacts cannot be
// read. Missing and corrupt are deliberately distinguishable.
func (m *Manager) CheckHook(id string) (*domain.Hook, error) {
	for _, state := range domain.HookStates {
		dir := m.hookDir(state, id)
		ok, err := exists(dir)
		if err != nil {
			return nil, fmt.Errorf("stat hook %s: %w", id, err)
		}
		if !ok {
			continue
		}
		hook, err := m.readHook(state, id)
		if err != nil {
			m.logger.Warn("unreadable hook",
				slog.String("hook_id", id),
				slog.String("state", string(state)),
				slog.Any("err", err))
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrHookCorrupt, id, err)
		}
		return hook, nil
	}
	return nil, nil
}

// Locations returns every state directory that currently holds id. A
// healthy tree always yields at most one entry.
func (m *Manager) Locations(id string) ([]domain.HookState, error) {
	var found []domain.HookState
	for _, state := range domain.HookStates {
		ok, err := exists(m.hookDir(state, id))
		if err != nil {
			return nil, err
		}
		if ok {
			found = append(found, state)
		}
	}
	return found, nil
}

// List returns hook ids in state, in name order.
func (m *Manager) List(state domain.HookState) ([]string, error) {
	ids, err := listDirs(m.stateDir(state))
	if err != nil {
		return nil, fmt.Errorf("list %s hooks: %w", state, err)
	}
	return ids, nil
}

// ListPending is List(HookStatePending).
func (m *Manager) ListPending() ([]string, error) {
	return m.List(domain.HookStatePending)
}

// Counts returns the number of hooks per state.
func (m *Manager) Counts() (map[domain.HookState]int, error) {
	counts := make(map[domain.HookState]int, len(domain.HookStates))
	for _, state := range domain.HookStates {
		ids, err := m.List(state)
		if err != nil {
			return nil, err
		}
		counts[state] = len(ids)
		metrics.HooksByState.WithLabelValues(string(state)).Set(float64(len(ids)))
	}
	return counts, nil
}

// ReadResult returns the result of a completed hook, or (nil, nil) when the
// hook has not completed.
func (m *Manager) ReadResult(id string) (*domain.HookResult, error) {
	path := filepath.Join(m.hookDir(domain.HookStateComplete, id), resultFile)
	var res domain.HookResult
	if err := readJSON(path, &res); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrHookCorrupt, id, err)
	}
	if res.Evidence.DiffImagePath == "" {
		if p, err := readText(filepath.Join(m.hookDir(domain.HookStateComplete, id), evidenceDir, diffImageFile)); err == nil {
			res.Evidence.DiffImagePath = p
		}
	}
	return &res, nil
}

// ContextBytes returns the raw context.json of a hook wherever it currently
// sits. Evidence input hashes are taken over these exact bytes.
func (m *Manager) ContextBytes(id string) ([]byte, error) {
	for _, state := range domain.HookStates {
		b, err := os.ReadFile(filepath.Join(m.hookDir(state, id), contextFile))
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read context of %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrHookNotFound, id)
}

func (m *Manager) readHook(state domain.HookState, id string) (*domain.Hook, error) {
	dir := m.hookDir(state, id)
	var task domain.Task
	if err := readJSON(filepath.Join(dir, taskFile), &task); err != nil {
		return nil, fmt.Errorf("read %s: %w", taskFile, err)
	}
	var mvc domain.MinimumViableContext
	if err := readJSON(filepath.Join(dir, contextFile), &mvc); err != nil {
		return nil, fmt.Errorf("read %s: %w", contextFile, err)
	}
	rec, err := m.readStatus(dir)
	if err != nil {
		return nil, err
	}
	return &domain.Hook{
		ID:         id,
		WorkerID:   rec.WorkerID,
		Role:       rec.Role,
		Task:       &task,
		Context:    mvc,
		Status:     rec.Status,
		State:      state,
		AssignedAt: rec.Assigned,
		Record:     rec,
	}, nil
}

func (m *Manager) readStatus(dir string) (domain.StatusRecord, error) {
	var rec domain.StatusRecord
	if err := readJSON(filepath.Join(dir, statusFile), &rec); err != nil {
		return domain.StatusRecord{}, fmt.Errorf("read %s: %w", statusFile, err)
	}
	return rec, nil
}

func (m *Manager) stateDir(state domain.HookState) string {
	return filepath.Join(m.cfg.Root, string(state))
}

func (m *Manager) hookDir(state domain.HookState, id string) string {
	return filepath.Join(m.stateDir(state), id)
}

// logEvent reports to the ledger. The hook tree is the source of truth, so a
// ledger failure is logged rather than failing the transition that already
// happened on disk.
func (m *Manager) logEvent(t domain.EventType, payload map[string]any) {
	if err := m.ledger.LogEvent(t, payload); err != nil {
		m.logger.Warn("ledger event failed", slog.String("event", string(t)), slog.Any("err", err))
	}
}

func (m *Manager) updateTaskStatus(taskID string, status domain.TaskStatus, extra map[string]any) {
	if taskID == "" {
		return
	}
	if err := m.ledger.UpdateTaskStatus(taskID, status, extra); err != nil {
		m.logger.Warn("ledger status update failed",
			slog.String("task_id", taskID),
			slog.String("status", string(status)),
			slog.Any("err", err))
	}
}

func (m *Manager) now() time.Time {
	if m.clock == nil {
		return time.Now()
	}
	return m.clock()
}
