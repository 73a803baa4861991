// Package metrics defines the Prometheus collectors the orchestrator and
// status bus publish. Shape (a stage/status-labeled duration histogram plus
// retry/failure counters and an active-work gauge, all registered against a
// caller-supplied registry via a MustNew constructor) is grounded on
// internal/orchestrator's metrics in the example corpus, which plays the
// same "supervisor fans out bounded, stage-labeled work" role this engine's
// Orchestrator and Team Lead play.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "execution_engine"

// Metrics holds every collector the engine publishes. Construct with
// MustNew against the registry the caller wants these registered on (the
// default global registry in production, a fresh *prometheus.Registry in
// tests).
type Metrics struct {
	taskDuration  *prometheus.HistogramVec
	taskRetries   *prometheus.CounterVec
	taskFailures  *prometheus.CounterVec
	activeLeads   prometheus.Gauge
	blockersOpen  prometheus.Gauge
}

// MustNew registers all collectors against registerer and panics if
// registration fails — mirroring the teacher's MustNewMetrics, since a
// collector name collision is a programmer error that should fail fast at
// startup, not be swallowed.
func MustNew(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_stage_duration_seconds",
			Help:      "Duration of a sub-agent stage run, labeled by stage and outcome status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		taskRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Number of task retry attempts, labeled by service.",
		}, []string{"service"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Number of terminal task failures, labeled by service and failing stage.",
		}, []string{"service", "stage"}),
		activeLeads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_team_leads",
			Help:      "Number of team leads currently running within the concurrency ceiling.",
		}),
		blockersOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_blockers",
			Help:      "Number of blockers currently awaiting resolution.",
		}),
	}

	registerer.MustRegister(
		m.taskDuration,
		m.taskRetries,
		m.taskFailures,
		m.activeLeads,
		m.blockersOpen,
	)
	return m
}

// ObserveStage records the duration of one stage run.
func (m *Metrics) ObserveStage(stage, status string, seconds float64) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(stage, status).Observe(seconds)
}

// IncRetry records one task retry for service.
func (m *Metrics) IncRetry(service string) {
	if m == nil {
		return
	}
	m.taskRetries.WithLabelValues(service).Inc()
}

// IncFailure records one terminal task failure for service, attributing it
// to the stage that failed.
func (m *Metrics) IncFailure(service, stage string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(service, stage).Inc()
}

// SetActiveLeads publishes the current number of running team leads.
func (m *Metrics) SetActiveLeads(n int) {
	if m == nil {
		return
	}
	m.activeLeads.Set(float64(n))
}

// SetOpenBlockers publishes the current number of unresolved blockers.
func (m *Metrics) SetOpenBlockers(n int) {
	if m == nil {
		return
	}
	m.blockersOpen.Set(float64(n))
}
