package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes used as the "outcome" label
const (
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeConflict   = "conflict"
	OutcomeRejected   = "rejected"
	OutcomeSuccess    = "success"
	OutcomeError      = "error"
	OutcomeCached     = "cached"
	OutcomeValidation = "validation"
)

// Metrics holds the collectors of the audit pipeline
type Metrics struct {
	// Runs by terminal outcome
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec

	// Dataset uploads by role (primary, secondary) and outcome
	UploadsTotal *prometheus.CounterVec

	// Engine calls by operation (upload, compute) and outcome
	EngineCallDuration *prometheus.HistogramVec

	// Circuit breaker state (0=closed, 1=half-open, 2=open)
	BreakerState *prometheus.GaugeVec

	// Runs refused because another run held the audit, by layer (lease, stamp)
	GuardConflicts *prometheus.CounterVec

	NormalizationWarnings prometheus.Counter

	// Run event queue (backpressure)
	RunEventQueueDepth prometheus.Gauge
	RunEventsDropped   prometheus.Counter
}

// NewMetrics registers the collectors on reg.
// A nil reg registers on a private registry that nothing scrapes.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fairness_audit_runs_total",
			Help: "Total number of audit computation runs by outcome.",
		}, []string{"outcome"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fairness_audit_run_duration_seconds",
			Help:    "Duration of audit computation runs.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fairness_dataset_uploads_total",
			Help: "Total number of dataset uploads to the engine by role and outcome.",
		}, []string{"role", "outcome"}),

		EngineCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fairness_engine_call_duration_seconds",
			Help:    "Latency of analytics engine calls.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation", "outcome"}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fairness_engine_circuit_breaker_state",
			Help: "Current state of the engine circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),

		GuardConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fairness_audit_run_conflicts_total",
			Help: "Total number of runs refused because another run held the audit.",
		}, []string{"layer"}),

		NormalizationWarnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "fairness_normalization_warnings_total",
			Help: "Total number of warnings raised while normalizing engine output.",
		}),

		RunEventQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fairness_run_event_queue_depth",
			Help: "Current number of run events waiting to be persisted.",
		}),

		RunEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "fairness_run_events_dropped_total",
			Help: "Total number of run events dropped because the queue was full.",
		}),
	}
}
