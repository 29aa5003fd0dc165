package sqlite

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/convoy/internal/domain"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// Event is a single row of the append-only event log.
type Event struct {
	ID        int64            `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Type      domain.EventType `json:"type"`
	TaskID    string           `json:"task_id,omitempty"`
	HookID    string           `json:"hook_id,omitempty"`
	Payload   map[string]any   `json:"payload"`
}

// StatusChange is a row of the task status history.
type StatusChange struct {
	TaskID    string            `json:"task_id"`
	Status    domain.TaskStatus `json:"status"`
	Extra     map[string]any    `json:"extra,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// GenerateID returns "<role>-<taskID>-<8 hex>". Workers select hooks by the
// "<role>-" prefix, so the role always comes first.
func (d *DB) GenerateID(role domain.Role, taskID string) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownRole, role)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if taskID == "" {
		return fmt.Sprintf("%s-%s", role, suffix), nil
	}
	return fmt.Sprintf("%s-%s-%s", role, taskID, suffix), nil
}

// LogEvent appends an event. task_id and hook_id payload keys are indexed.
func (d *DB) LogEvent(eventType domain.EventType, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO events (timestamp, type, task_id, hook_id, payload) VALUES (?, ?, ?, ?, ?)`,
		d.now().UnixNano(), string(eventType),
		stringField(payload, "task_id"), stringField(payload, "hook_id"), string(data),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpdateTaskStatus appends a status transition to the history.
func (d *DB) UpdateTaskStatus(taskID string, status domain.TaskStatus, extra map[string]any) error {
	if extra == nil {
		extra = map[string]any{}
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("marshal status extra: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO task_status (task_id, status, extra, updated_at) VALUES (?, ?, ?, ?)`,
		taskID, string(status), string(data), d.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert task status: %w", err)
	}
	return nil
}

// Events returns events, optionally filtered by type, oldest first.
// A limit of zero returns everything.
func (d *DB) Events(eventType domain.EventType, limit int) ([]Event, error) {
	query := `SELECT id, timestamp, type, task_id, hook_id, payload FROM events`
	var args []any
	if eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// TaskHistory returns the recorded status transitions of a task, oldest first.
func (d *DB) TaskHistory(taskID string) ([]StatusChange, error) {
	rows, err := d.db.Query(
		`SELECT task_id, status, extra, updated_at FROM task_status WHERE task_id = ? ORDER BY id ASC`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []StatusChange
	for rows.Next() {
		var (
			c       StatusChange
			status  string
			extra   string
			updated int64
		)
		if err := rows.Scan(&c.TaskID, &status, &extra, &updated); err != nil {
			return nil, err
		}
		c.Status = domain.TaskStatus(status)
		c.UpdatedAt = time.Unix(0, updated)
		if err := json.Unmarshal([]byte(extra), &c.Extra); err != nil {
			return nil, fmt.Errorf("decode status extra: %w", err)
		}
		history = append(history, c)
	}
	return history, rows.Err()
}

func scanEvent(s scanner) (Event, error) {
	var (
		e       Event
		ts      int64
		typ     string
		taskID  *string
		hookID  *string
		payload string
	)
	if err := s.Scan(&e.ID, &ts, &typ, &taskID, &hookID, &payload); err != nil {
		return Event{}, err
	}
	e.Timestamp = time.Unix(0, ts)
	e.Type = domain.EventType(typ)
	if taskID != nil {
		e.TaskID = *taskID
	}
	if hookID != nil {
		e.HookID = *hookID
	}
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return Event{}, fmt.Errorf("decode event payload: %w", err)
	}
	return e, nil
}

func stringField(m map[string]any, key string) any {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return nil
}
