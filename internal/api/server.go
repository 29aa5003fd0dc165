// Package api provides the read-only HTTP status API of the convoy daemon:
// convoys with their progress, tasks, hooks and health checks.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/convoy/internal/app/convoy"
	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/health"
)

// HookReader is the read side of the hook manager.
// Implemented by *hookfs.Manager.
type HookReader interface {
	List(state domain.HookState) ([]string, error)
	Counts() (map[domain.HookState]int, error)
	CheckHook(id string) (*domain.Hook, error)
	ReadResult(id string) (*domain.HookResult, error)
}

// Server is the convoy HTTP API server.
type Server struct {
	orch           *convoy.Orchestrator
	hooks          HookReader
	health         *health.Checker
	metricsEnabled bool
	logger         *slog.Logger
}

// NewServer creates a new API server.
func NewServer(orch *convoy.Orchestrator, hooks HookReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orch: orch, hooks: hooks, logger: logger.With(slog.String("component", "api"))}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth sets the checker reported by /api/health.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/convoys", s.handleListConvoys)
		r.Get("/convoys/{id}", s.handleGetConvoy)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Get("/hooks", s.handleListHooks)
		r.Get("/hooks/{id}", s.handleGetHook)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"status":  status,
		},
	})
}

// corsMiddleware adds CORS headers for local dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
