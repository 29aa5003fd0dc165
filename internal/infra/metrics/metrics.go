// Package metrics provides Prometheus metrics for convoy.
// Counters, gauges and histograms for hook lifecycle, dispatch, gates,
// workers and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Hooks ──────────────────────────────────────────────────────────────────

// HooksCreated tracks hooks written to pending/ by role.
var HooksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "hooks_created_total",
	Help:      "Total hooks created.",
}, []string{"role"})

// HooksActivated tracks pending → active transitions by role.
var HooksActivated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "hooks_activated_total",
	Help:      "Total hooks claimed by a worker.",
}, []string{"role"})

// HooksCompleted tracks active → complete transitions by role and outcome.
var HooksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "hooks_completed_total",
	Help:      "Total hooks completed.",
}, []string{"role", "status"})

// HooksRecovered tracks orphans moved back to pending at startup.
var HooksRecovered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "hooks_recovered_total",
	Help:      "Total orphaned hooks recovered.",
})

// HooksHandedOff tracks voluntary yields by reason.
var HooksHandedOff = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "hooks_handoff_total",
	Help:      "Total hooks handed back to pending.",
}, []string{"reason"})

// HooksCleaned tracks retention deletions.
var HooksCleaned = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "hooks_cleaned_total",
	Help:      "Total completed hooks removed by retention.",
})

// HooksByState tracks the number of hook directories per location.
var HooksByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "convoy",
	Name:      "hooks",
	Help:      "Hooks currently present per state directory.",
}, []string{"state"})

// HookDuration tracks time from activation to completion.
var HookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "convoy",
	Name:      "hook_duration_seconds",
	Help:      "Time from hook activation to completion.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
}, []string{"role"})

// ─── Dispatch ───────────────────────────────────────────────────────────────

// SlingOutcomes tracks sling results by outcome (dispatched, denied, rejected).
var SlingOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "sling_total",
	Help:      "Total sling attempts by outcome.",
}, []string{"outcome"})

// GateDecisions tracks gate evaluations by gate and status.
var GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "gate_decisions_total",
	Help:      "Total gate decisions.",
}, []string{"gate", "status"})

// TasksReconciled tracks task status changes applied from hook results.
var TasksReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "tasks_reconciled_total",
	Help:      "Task status changes applied from hook results.",
}, []string{"status"})

// ─── Workers ────────────────────────────────────────────────────────────────

// WorkerRuns tracks GUPP invocations by role and outcome (idle, complete, failed, handoff).
var WorkerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "worker_runs_total",
	Help:      "Total worker invocations by outcome.",
}, []string{"role", "outcome"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "convoy",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "convoy",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
