package hookfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/metrics"
)

// ─── Activate ───────────────────────────────────────────────────────────────

// ActivateHook claims a pending hook for workerID by renaming it into
// active/. The rename is the claim: when two workers race, exactly one
// rename succeeds and the loser sees the source vanish and gets false.
//
// Returns false without touching the filesystem if the hook is not pending.
func (m *Manager) ActivateHook(id, workerID string) (bool, error) {
	src := m.hookDir(domain.HookStatePending, id)
	dst := m.hookDir(domain.HookStateActive, id)

	ok, err := exists(src)
	if err != nil {
		return false, fmt.Errorf("stat pending hook %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("activate hook %s: %w", id, err)
	}

	rec, err := m.readStatus(dst)
	if err != nil {
		return true, fmt.Errorf("activate hook %s: %w", id, err)
	}
	now := m.now()
	rec.Status = domain.HookInProgress
	rec.Started = &now
	if workerID != "" {
		rec.WorkerID = workerID
	}
	if err := writeJSON(filepath.Join(dst, statusFile), rec); err != nil {
		return true, fmt.Errorf("write status for %s: %w", id, err)
	}

	m.logEvent(domain.EventHookActivated, map[string]any{
		"hook_id":   id,
		"task_id":   rec.TaskID,
		"worker_id": rec.WorkerID,
	})
	m.updateTaskStatus(rec.TaskID, domain.TaskInProgress, map[string]any{
		"hook_id":   id,
		"worker_id": rec.WorkerID,
	})
	metrics.HooksActivated.WithLabelValues(string(rec.Role)).Inc()
	m.logger.Info("hook activated", slog.String("hook_id", id), slog.String("worker_id", rec.WorkerID))
	return true, nil
}

// ─── Complete ───────────────────────────────────────────────────────────────

// CompleteHook records result inside the still-active directory, then moves
// the hook to complete/. Returns false if the hook is not active.
func (m *Manager) CompleteHook(id string, result domain.HookResult) (bool, error) {
	dir := m.hookDir(domain.HookStateActive, id)
	ok, err := exists(dir)
	if err != nil {
		return false, fmt.Errorf("stat active hook %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}
	if !result.Status.IsTerminal() {
		return false, fmt.Errorf("complete hook %s: %w: %q", id, domain.ErrNonTerminal, result.Status)
	}
	if result.HookID == "" {
		result.HookID = id
	}
	if result.HookID != id {
		return false, fmt.Errorf("complete hook %s: %w: %s", id, domain.ErrResultMismatch, result.HookID)
	}

	rec, err := m.readStatus(dir)
	if err != nil {
		// A hook with a damaged status.json must still be able to finish,
		// otherwise it stays in active/ forever.
		if result.Status != domain.HookFailed {
			return false, fmt.Errorf("complete hook %s: %w", id, err)
		}
		m.logger.Warn("completing hook with unreadable status", slog.String("hook_id", id), slog.Any("err", err))
		role, taskID, _ := ParseHookID(id)
		rec = domain.StatusRecord{HookID: id, TaskID: taskID, Role: role}
	}
	if result.TaskID == "" {
		result.TaskID = rec.TaskID
	}
	now := m.now()
	if result.Evidence.Timestamp.IsZero() {
		result.Evidence.Timestamp = now
	}

	if err := writeJSON(filepath.Join(dir, resultFile), result); err != nil {
		return false, fmt.Errorf("write result for %s: %w", id, err)
	}
	if err := m.writeEvidence(dir, result.Evidence); err != nil {
		return false, fmt.Errorf("write evidence for %s: %w", id, err)
	}
	rec.Status = result.Status
	rec.Completed = &now
	if err := writeJSON(filepath.Join(dir, statusFile), rec); err != nil {
		return false, fmt.Errorf("write status for %s: %w", id, err)
	}
	if err := os.Rename(dir, m.hookDir(domain.HookStateComplete, id)); err != nil {
		return false, fmt.Errorf("move hook %s to complete: %w", id, err)
	}

	payload := map[string]any{
		"hook_id": id,
		"task_id": result.TaskID,
		"status":  string(result.Status),
	}
	extra := map[string]any{"hook_id": id}
	if result.Error != nil {
		payload["error_code"] = result.Error.Code
		payload["recoverable"] = result.Error.Recoverable
		extra["error"] = result.Error.Message
	}
	m.logEvent(domain.EventHookCompleted, payload)
	taskStatus := domain.TaskComplete
	if result.Status == domain.HookFailed {
		taskStatus = domain.TaskFailed
	}
	m.updateTaskStatus(result.TaskID, taskStatus, extra)

	metrics.HooksCompleted.WithLabelValues(string(rec.Role), string(result.Status)).Inc()
	if rec.Started != nil {
		metrics.HookDuration.WithLabelValues(string(rec.Role)).Observe(now.Sub(*rec.Started).Seconds())
	}
	m.logger.Info("hook completed", slog.String("hook_id", id), slog.String("status", string(result.Status)))
	return true, nil
}

func (m *Manager) writeEvidence(dir string, ev domain.Evidence) error {
	evDir := filepath.Join(dir, evidenceDir)
	if err := os.MkdirAll(evDir, 0o755); err != nil {
		return err
	}
	if err := writeText(filepath.Join(evDir, inputHashFile), ev.InputHash); err != nil {
		return err
	}
	if err := writeText(filepath.Join(evDir, outputHashFile), ev.OutputHash); err != nil {
		return err
	}
	if ev.DiffImagePath != "" {
		if err := writeText(filepath.Join(evDir, diffImageFile), ev.DiffImagePath); err != nil {
			return err
		}
	}
	return nil
}

// ─── Recover ────────────────────────────────────────────────────────────────

// RecoverOrphanedHooks moves every active hook back to pending. It is meant
// to run at startup, when any active hook was abandoned by a crashed worker.
// A hook can be retried this way but never lost.
func (m *Manager) RecoverOrphanedHooks() ([]*domain.Hook, error) {
	if err := m.purgeStaging(); err != nil {
		return nil, err
	}
	ids, err := m.List(domain.HookStateActive)
	if err != nil {
		return nil, err
	}

	var recovered []*domain.Hook
	for _, id := range ids {
		dir := m.hookDir(domain.HookStateActive, id)
		rec, err := m.readStatus(dir)
		if err != nil {
			m.logger.Warn("orphan has unreadable status, resetting",
				slog.String("hook_id", id), slog.Any("err", err))
			rec = domain.StatusRecord{HookID: id}
		}
		now := m.now()
		rec.Status = domain.HookPending
		rec.Recovered = &now
		rec.Recoveries++
		rec.Started = nil
		rec.Completed = nil
		rec.WorkerID = ""

		if err := m.resetForRetry(dir); err != nil {
			return recovered, fmt.Errorf("recover hook %s: %w", id, err)
		}
		if err := writeJSON(filepath.Join(dir, statusFile), rec); err != nil {
			return recovered, fmt.Errorf("recover hook %s: %w", id, err)
		}
		if err := os.Rename(dir, m.hookDir(domain.HookStatePending, id)); err != nil {
			return recovered, fmt.Errorf("recover hook %s: %w", id, err)
		}

		m.logEvent(domain.EventHookRecovered, map[string]any{"hook_id": id, "task_id": rec.TaskID})
		m.updateTaskStatus(rec.TaskID, domain.TaskPending, map[string]any{"hook_id": id, "recovered": true})
		metrics.HooksRecovered.Inc()
		m.logger.Warn("recovered orphaned hook", slog.String("hook_id", id))

		hook, err := m.readHook(domain.HookStatePending, id)
		if err != nil {
			m.logger.Warn("recovered hook is unreadable", slog.String("hook_id", id), slog.Any("err", err))
			continue
		}
		recovered = append(recovered, hook)
	}
	return recovered, nil
}

// resetForRetry drops artifacts of an interrupted completion so a pending
// hook never carries a result.
func (m *Manager) resetForRetry(dir string) error {
	if err := os.Remove(filepath.Join(dir, resultFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	evDir := filepath.Join(dir, evidenceDir)
	if err := os.RemoveAll(evDir); err != nil {
		return err
	}
	return os.MkdirAll(evDir, 0o755)
}

// purgeStaging removes staging directories left by a CreateHook that died
// before publishing. Recent entries may belong to a live writer and stay.
func (m *Manager) purgeStaging() error {
	root := filepath.Join(m.cfg.Root, stagingDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list staging: %w", err)
	}
	cutoff := m.now().Add(-m.cfg.StagingTTL)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return fmt.Errorf("purge staging %s: %w", e.Name(), err)
		}
		m.logger.Info("purged abandoned staging dir", slog.String("hook_id", e.Name()))
	}
	return nil
}

// ─── Handoff ────────────────────────────────────────────────────────────────

// HandoffRequest describes a voluntary yield.
type HandoffRequest struct {
	Reason      domain.HandoffReason
	ResumePoint string
	Progress    map[string]any // merged over progress from earlier handoffs
}

// HandoffHook yields an active hook back to pending. Returns false if the
// hook is not active.
func (m *Manager) HandoffHook(id string, reason domain.HandoffReason, resumePoint string) (bool, error) {
	return m.HandoffWithProgress(id, HandoffRequest{Reason: reason, ResumePoint: resumePoint})
}

// HandoffWithProgress is HandoffHook with partial progress metadata.
func (m *Manager) HandoffWithProgress(id string, req HandoffRequest) (bool, error) {
	if !req.Reason.Valid() {
		return false, fmt.Errorf("handoff hook %s: %w: %q", id, domain.ErrInvalidHandoff, req.Reason)
	}
	dir := m.hookDir(domain.HookStateActive, id)
	ok, err := exists(dir)
	if err != nil {
		return false, fmt.Errorf("stat active hook %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}

	rec, err := m.readStatus(dir)
	if err != nil {
		return false, fmt.Errorf("handoff hook %s: %w", id, err)
	}
	now := m.now()
	previousWorker := rec.WorkerID
	rec.Status = domain.HookPending
	rec.HandoffAt = &now
	rec.HandoffReason = req.Reason
	rec.ResumePoint = req.ResumePoint
	rec.Handoffs++
	rec.Started = nil
	rec.WorkerID = ""
	if len(req.Progress) > 0 {
		if rec.Progress == nil {
			rec.Progress = make(map[string]any, len(req.Progress))
		}
		maps.Copy(rec.Progress, req.Progress)
	}

	if err := m.resetForRetry(dir); err != nil {
		return false, fmt.Errorf("handoff hook %s: %w", id, err)
	}
	if err := writeJSON(filepath.Join(dir, statusFile), rec); err != nil {
		return false, fmt.Errorf("handoff hook %s: %w", id, err)
	}
	if err := os.Rename(dir, m.hookDir(domain.HookStatePending, id)); err != nil {
		return false, fmt.Errorf("handoff hook %s: %w", id, err)
	}

	m.logEvent(domain.EventHookHandoff, map[string]any{
		"hook_id":      id,
		"task_id":      rec.TaskID,
		"reason":       string(req.Reason),
		"resume_point": req.ResumePoint,
		"worker_id":    previousWorker,
	})
	metrics.HooksHandedOff.WithLabelValues(string(req.Reason)).Inc()
	m.logger.Info("hook handed off",
		slog.String("hook_id", id),
		slog.String("reason", string(req.Reason)),
		slog.String("resume_point", req.ResumePoint))
	return true, nil
}

// ─── Cleanup ────────────────────────────────────────────────────────────────

// CleanupCompletedHooks deletes complete hooks older than maxAge and returns
// how many were removed. Age is taken from the completed stamp, falling back
// to the directory mtime.
func (m *Manager) CleanupCompletedHooks(maxAge time.Duration) (int, error) {
	ids, err := m.List(domain.HookStateComplete)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, id := range ids {
		dir := m.hookDir(domain.HookStateComplete, id)
		finished, err := m.finishedAt(dir)
		if err != nil {
			return removed, fmt.Errorf("age of hook %s: %w", id, err)
		}
		if !finished.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("remove hook %s: %w", id, err)
		}
		removed++
	}
	if removed > 0 {
		m.logEvent(domain.EventHookCleaned, map[string]any{"count": removed, "max_age": maxAge.String()})
		metrics.HooksCleaned.Add(float64(removed))
		m.logger.Info("cleaned completed hooks", slog.Int("count", removed))
	}
	return removed, nil
}

func (m *Manager) finishedAt(dir string) (time.Time, error) {
	if rec, err := m.readStatus(dir); err == nil && rec.Completed != nil {
		return *rec.Completed, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
