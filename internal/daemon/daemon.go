package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tutu-network/convoy/internal/api"
	"github.com/tutu-network/convoy/internal/app/convoy"
	"github.com/tutu-network/convoy/internal/app/worker"
	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/health"
	"github.com/tutu-network/convoy/internal/infra/checkerspec"
	"github.com/tutu-network/convoy/internal/infra/gate"
	"github.com/tutu-network/convoy/internal/infra/hookfs"
	"github.com/tutu-network/convoy/internal/infra/sqlite"
)

// maintenanceInterval spaces the reconcile and cleanup passes of Serve.
const maintenanceInterval = time.Minute

// Daemon wires together the ledger, the hook tree, the gate and the
// orchestrator. Every CLI command builds one; only `serve` keeps it running.
type Daemon struct {
	Config Config
	Logger *slog.Logger
	DB     *sqlite.DB
	Hooks  *hookfs.Manager
	Specs  *checkerspec.Dir
	Gate   domain.GateEvaluator
	Convoy *convoy.Orchestrator
	Health *health.Checker
	Server *api.Server
	cancel context.CancelFunc
}

// New creates and initializes a Daemon from the config file.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := NewLogger(cfg.Logging, os.Stderr)

	ledgerDir := cfg.Ledger.Dir
	if ledgerDir == "" {
		ledgerDir = convoyHome()
	}
	db, err := sqlite.Open(ledgerDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var specs *checkerspec.Dir
	hookOpts := []hookfs.Option{hookfs.WithLogger(logger)}
	convoyOpts := []convoy.Option{convoy.WithLogger(logger), convoy.WithLedger(db)}
	if cfg.Checkers.Dir != "" {
		specs = checkerspec.NewDir(cfg.Checkers.Dir)
		hookOpts = append(hookOpts, hookfs.WithCheckerSpecs(specs))
		convoyOpts = append(convoyOpts, convoy.WithCheckerSpecs(specs))
	}

	hooks, err := hookfs.New(hookfs.Config{Root: cfg.Hooks.Root, StagingTTL: cfg.StagingTTL()}, db, hookOpts...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open hook tree: %w", err)
	}

	g, err := newGate(cfg.Gate, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	orch, err := convoy.New(db, hooks, g, convoyOpts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	checker := health.NewChecker(db, hooks, cfg.Checkers.Dir, logger)
	srv := api.NewServer(orch, hooks, logger)
	srv.SetHealth(checker)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Hooks:  hooks,
		Specs:  specs,
		Gate:   g,
		Convoy: orch,
		Health: checker,
		Server: srv,
	}, nil
}

func newGate(cfg GateConfig, logger *slog.Logger) (domain.GateEvaluator, error) {
	if cfg.Skip {
		logger.Warn("gate disabled, every dispatch is authorized")
		return gate.AllowAll{}, nil
	}
	if cfg.PolicyFile == "" {
		return gate.NewEvaluator(nil, logger), nil
	}
	policy, err := gate.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load gate policy: %w", err)
	}
	return gate.NewEvaluator(policy, logger), nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Worker builds a worker runtime for role. A zero timeout falls back to
// worker.timeout from the config.
func (d *Daemon) Worker(role domain.Role, timeout time.Duration) (*worker.Runtime, error) {
	if timeout == 0 {
		timeout = d.Config.WorkerTimeout()
	}
	return worker.New(d.Hooks, role, worker.WithLogger(d.Logger), worker.WithTimeout(timeout))
}

// Recover returns orphaned active hooks to pending. Run it when no worker of
// this hook tree can still be alive, such as at daemon startup.
func (d *Daemon) Recover() ([]*domain.Hook, error) {
	recovered, err := d.Hooks.RecoverOrphanedHooks()
	if err != nil {
		return nil, fmt.Errorf("recover hooks: %w", err)
	}
	return recovered, nil
}

// Serve recovers orphaned hooks, then serves the status API until ctx ends or
// a signal arrives. Completed results are reconciled and old hooks cleaned
// up in the background.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	recovered, err := d.Recover()
	if err != nil {
		return err
	}
	if len(recovered) > 0 {
		d.Logger.Info("recovered orphaned hooks", slog.Int("count", len(recovered)))
	}

	go d.Health.Run(ctx)
	go d.maintain(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.Logger.Info("convoy serving",
		slog.String("addr", "http://"+addr),
		slog.String("hooks", d.Hooks.Root()),
		slog.Bool("metrics", d.Config.Telemetry.Prometheus))

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (d *Daemon) maintain(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Convoy.Reconcile(ctx, convoy.ReconcileOptions{}); err != nil && ctx.Err() == nil {
				d.Logger.Warn("reconcile failed", slog.Any("err", err))
			}
			if _, err := d.Hooks.CleanupCompletedHooks(d.Config.Retention()); err != nil {
				d.Logger.Warn("hook cleanup failed", slog.Any("err", err))
			}
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
