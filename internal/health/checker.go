// Package health provides periodic health checks with auto-recovery for the
// ledger database and the hook tree.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/infra/metrics"
)

// DefaultInterval is the time between check rounds.
const DefaultInterval = 60 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	Recovered bool      `json:"recovered,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is satisfied by *sqlite.DB.
type Pinger interface {
	Ping() error
}

// HookTree is satisfied by *hookfs.Manager.
type HookTree interface {
	Root() string
	EnsureLayout() error
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	logger   *slog.Logger
}

// NewChecker creates a health checker for the ledger, the hook tree and,
// when checkersDir is set, the CheckerSpec directory.
func NewChecker(db Pinger, hooks HookTree, checkersDir string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	checks := []Check{
		{
			Name: "sqlite",
			CheckFn: func(ctx context.Context) error {
				return db.Ping()
			},
		},
		{
			Name: "hook_layout",
			CheckFn: func(ctx context.Context) error {
				return checkHookLayout(hooks.Root())
			},
			RecoverFn: func(ctx context.Context) error {
				return hooks.EnsureLayout()
			},
		},
	}
	if checkersDir != "" {
		checks = append(checks, Check{
			Name: "checker_specs",
			CheckFn: func(ctx context.Context) error {
				return checkDir(checkersDir)
			},
		})
	}
	return &Checker{
		interval: DefaultInterval,
		checks:   checks,
		logger:   logger.With(slog.String("component", "health")),
	}
}

// SetInterval changes the time between rounds. Must be called before Run.
func (c *Checker) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check once. A failing check with a recovery action is
// recovered and then checked again.
func (c *Checker) RunOnce(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, CheckedAt: time.Now()}
		err := check.CheckFn(ctx)
		if err != nil && check.RecoverFn != nil {
			if rerr := check.RecoverFn(ctx); rerr != nil {
				c.logger.Warn("health recovery failed", slog.String("check", check.Name), slog.Any("err", rerr))
			} else {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				if err = check.CheckFn(ctx); err == nil {
					s.Recovered = true
					c.logger.Info("health check recovered", slog.String("check", check.Name))
				}
			}
		}
		if err != nil {
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
			c.logger.Warn("health check failed", slog.String("check", check.Name), slog.Any("err", err))
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkHookLayout(root string) error {
	for _, state := range domain.HookStates {
		if err := checkDir(filepath.Join(root, string(state))); err != nil {
			return err
		}
	}
	return nil
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
