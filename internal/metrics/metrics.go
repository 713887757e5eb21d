// Package metrics provides Prometheus metrics for the backend node:
// per-session request/drop rate, GPU duty-cycle utilization, reconciliation
// duration, and backup circuit-breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nexusbackend"

// ─── Request path ───────────────────────────────────────────────────────────

// RequestRate tracks the EWMA-estimated requests/sec per session.
var RequestRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "session_request_rate",
	Help:      "EWMA-estimated requests per second, per session.",
}, []string{"session"})

// DropRate tracks the EWMA-estimated drops/sec per session.
var DropRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "session_drop_rate",
	Help:      "EWMA-estimated drops per second, per session.",
}, []string{"session"})

// RepliesTotal counts completed task replies by session and status.
var RepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "replies_total",
	Help:      "Total dispatched task replies by session and status.",
}, []string{"session", "status"})

// RelaysTotal counts queries forwarded to a backup backend, by outcome.
var RelaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "relays_total",
	Help:      "Total queries relayed to a backup backend, by outcome.",
}, []string{"outcome"})

// ─── GPU driver ─────────────────────────────────────────────────────────────

// DutyCycleUtilization tracks the fraction of the configured duty cycle
// actually spent serving batches in the last iteration (1.0 = fully busy).
var DutyCycleUtilization = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "gpu_duty_cycle_utilization",
	Help:      "Fraction of the configured duty cycle spent serving batches.",
})

// ForwardLatency tracks per-batch Forward duration, by session.
var ForwardLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "forward_latency_seconds",
	Help:      "Forward pass duration in seconds, by session.",
	Buckets:   prometheus.DefBuckets,
}, []string{"session"})

// ResidentModels tracks the number of ModelExecutors currently resident on
// the GPU driver.
var ResidentModels = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "resident_models",
	Help:      "Number of ModelExecutors currently resident on the GPU.",
})

// ─── Reconciliation ─────────────────────────────────────────────────────────

// ReconciliationDuration tracks how long one UpdateModelTable call takes.
var ReconciliationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "reconciliation_duration_seconds",
	Help:      "Time spent applying one model table directive.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// ReconciliationErrors counts directives that failed to apply.
var ReconciliationErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "reconciliation_errors_total",
	Help:      "Total model table directives that failed to apply.",
})

// ─── Backup pool ────────────────────────────────────────────────────────────

// CircuitBreakerState tracks each backup peer's circuit breaker state
// (0=closed, 1=open, 2=half-open).
var CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "backup_circuit_breaker_state",
	Help:      "Backup peer circuit breaker state (0=closed, 1=open, 2=half-open).",
}, []string{"node_id"})

// BackupOccupancy tracks the last-reported occupancy of each backup peer.
var BackupOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "backup_occupancy",
	Help:      "Last-reported occupancy of a backup peer (0.0-1.0+).",
}, []string{"node_id"})

// ─── Control plane ──────────────────────────────────────────────────────────

// HeartbeatErrors counts failed KeepAlive calls.
var HeartbeatErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "heartbeat_errors_total",
	Help:      "Total KeepAlive calls that returned an error.",
})

// RegistrationConflicts counts node-id conflicts encountered during Register.
var RegistrationConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "registration_conflicts_total",
	Help:      "Total CTRL_BACKEND_NODE_ID_CONFLICT responses seen during registration.",
})
