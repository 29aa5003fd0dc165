package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tutu-network/convoy/internal/domain"
)

// ─── Task Store ─────────────────────────────────────────────────────────────
// Tasks and convoys are stored as JSON documents with a few indexed columns.

// PutTask inserts or replaces a task.
func (d *DB) PutTask(t *domain.Task) error {
	now := d.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO tasks (id, convoy_id, type, status, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			convoy_id=excluded.convoy_id,
			type=excluded.type,
			status=excluded.status,
			data=excluded.data,
			updated_at=excluded.updated_at`,
		t.ID, t.ConvoyID, string(t.Type), string(t.Status), string(data),
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask returns domain.ErrTaskNotFound when the id is unknown.
func (d *DB) GetTask(id string) (*domain.Task, error) {
	var data string
	err := d.db.QueryRow(`SELECT data FROM tasks WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeTask(data)
}

// ListTasks returns tasks in creation order. An empty convoyID lists all.
func (d *DB) ListTasks(convoyID string) ([]*domain.Task, error) {
	query := `SELECT data FROM tasks`
	var args []any
	if convoyID != "" {
		query += ` WHERE convoy_id = ?`
		args = append(args, convoyID)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		t, err := decodeTask(data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// PutConvoy inserts or replaces a convoy.
func (d *DB) PutConvoy(c *domain.Convoy) error {
	now := d.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal convoy: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO convoys (id, name, status, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			status=excluded.status,
			data=excluded.data,
			updated_at=excluded.updated_at`,
		c.ID, c.Name, string(c.Status), string(data),
		c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert convoy %s: %w", c.ID, err)
	}
	return nil
}

// GetConvoy returns domain.ErrConvoyNotFound when the id is unknown.
func (d *DB) GetConvoy(id string) (*domain.Convoy, error) {
	var data string
	err := d.db.QueryRow(`SELECT data FROM convoys WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConvoyNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeConvoy(data)
}

// ListConvoys returns all convoys, newest first.
func (d *DB) ListConvoys() ([]*domain.Convoy, error) {
	rows, err := d.db.Query(`SELECT data FROM convoys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convoys []*domain.Convoy
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		c, err := decodeConvoy(data)
		if err != nil {
			return nil, err
		}
		convoys = append(convoys, c)
	}
	return convoys, rows.Err()
}

// SetClock overrides the timestamp source (tests).
func (d *DB) SetClock(clock func() time.Time) {
	d.clock = clock
}

func decodeTask(data string) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

func decodeConvoy(data string) (*domain.Convoy, error) {
	var c domain.Convoy
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode convoy: %w", err)
	}
	return &c, nil
}
