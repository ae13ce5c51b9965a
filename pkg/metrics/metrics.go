// Package metrics exposes Prometheus instrumentation for the orchestrator
// core, following the same promauto registration pattern the rest of the
// fleet uses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsRunning tracks jobs currently in the running state across all plans.
	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Number of job attempts currently executing",
		},
	)

	// ExecutionsTotal counts completed attempts by outcome and job kind.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "executions",
			Name:      "total",
			Help:      "Total number of job attempts by outcome and kind",
		},
		[]string{"status", "kind"},
	)

	// ExecutionDuration tracks attempt duration.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Duration of job attempts in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16),
		},
		[]string{"job_id", "status"},
	)

	// RetriesTotal counts retry attempts scheduled per job.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "executions",
			Name:      "retries_total",
			Help:      "Total number of job retries scheduled",
		},
		[]string{"job_id"},
	)

	// AdmissionDenied counts resource manager admission refusals.
	AdmissionDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "resources",
			Name:      "admission_denied_total",
			Help:      "Total number of job starts denied by the resource manager",
		},
	)

	// ReservedMemoryMB tracks the sum of declared memory reservations.
	ReservedMemoryMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "resources",
			Name:      "reserved_memory_mb",
			Help:      "Sum of declared max_memory_mb reservations for running jobs",
		},
	)

	// DAGValidationFailures counts workflows rejected at validation time.
	DAGValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "dag",
			Name:      "validation_failures_total",
			Help:      "Total number of workflows rejected by DAG validation",
		},
	)

	// PlansCompleted counts finished ExecutionPlans by final status.
	PlansCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "plans",
			Name:      "completed_total",
			Help:      "Total number of execution plans by final status",
		},
		[]string{"status"},
	)

	// HTTPCircuitState reports each host's circuit breaker state as a
	// gauge (0=closed, 1=open, 2=half-open) so a tripped downstream host
	// shows up on the same dashboards as everything else.
	HTTPCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "http_runner",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per host: 0=closed, 1=open, 2=half-open",
		},
		[]string{"host"},
	)
)

// RecordExecution records metrics for one finished job attempt.
func RecordExecution(jobID, kind, status string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(status, kind).Inc()
	ExecutionDuration.WithLabelValues(jobID, status).Observe(durationSeconds)
}
