// Package metrics defines the prometheus collectors shared by the queue, the
// watchers, the orchestrator and the bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation.
type Metrics struct {
	// Counters
	tasksCreated    *prometheus.CounterVec
	tasksClaimed    *prometheus.CounterVec
	claimConflicts  *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	tasksReclaimed  *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	signalsIngested *prometheus.CounterVec
	publishes       *prometheus.CounterVec

	// Gauges
	clustersRipe prometheus.Gauge

	// Histograms
	taskDuration  *prometheus.HistogramVec
	qualityScores *prometheus.HistogramVec
	sweepDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_tasks_created_total",
				Help: "Total number of tasks created",
			},
			[]string{"agent_type"},
		),
		tasksClaimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_tasks_claimed_total",
				Help: "Total number of successful claims",
			},
			[]string{"agent_type"},
		),
		claimConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_claim_conflicts_total",
				Help: "Claims lost to a concurrent worker or a stale listing",
			},
			[]string{"agent_type"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_tasks_finished_total",
				Help: "Total number of tasks reaching a terminal state",
			},
			[]string{"agent_type", "status"},
		),
		tasksReclaimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_tasks_reclaimed_total",
				Help: "Processing tasks whose lease expired, by outcome",
			},
			[]string{"outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_orchestrator_transitions_total",
				Help: "Ledger transitions recorded by the orchestrator sweep",
			},
			[]string{"action"},
		),
		signalsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_signals_ingested_total",
				Help: "Signals received by the bridge",
			},
			[]string{"outcome"},
		),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_publishes_total",
				Help: "Publisher invocations by outcome",
			},
			[]string{"outcome"},
		),
		clustersRipe: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "foundry_clusters_ripe",
				Help: "Clusters ripe for production at the last sweep",
			},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foundry_task_duration_seconds",
				Help:    "Worker callback duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 300, 600},
			},
			[]string{"agent_type"},
		),
		qualityScores: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foundry_quality_score",
				Help:    "Quality gate scores of production results",
				Buckets: prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"task_type"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "foundry_sweep_duration_seconds",
				Help:    "Time spent in one orchestrator sweep",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.tasksCreated,
			m.tasksClaimed,
			m.claimConflicts,
			m.tasksFinished,
			m.tasksReclaimed,
			m.transitions,
			m.signalsIngested,
			m.publishes,
			m.clustersRipe,
			m.taskDuration,
			m.qualityScores,
			m.sweepDuration,
		)
	}
	return m
}

func (m *Metrics) TaskCreated(agentType string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(agentType).Inc()
}

func (m *Metrics) TaskClaimed(agentType string) {
	if m == nil {
		return
	}
	m.tasksClaimed.WithLabelValues(agentType).Inc()
}

func (m *Metrics) ClaimConflict(agentType string) {
	if m == nil {
		return
	}
	m.claimConflicts.WithLabelValues(agentType).Inc()
}

func (m *Metrics) TaskFinished(agentType, status string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(agentType, status).Inc()
}

func (m *Metrics) TaskReclaimed(outcome string) {
	if m == nil {
		return
	}
	m.tasksReclaimed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) SignalIngested(outcome string) {
	if m == nil {
		return
	}
	m.signalsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Published(outcome string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetClustersRipe(n int) {
	if m == nil {
		return
	}
	m.clustersRipe.Set(float64(n))
}

func (m *Metrics) ObserveTask(agentType string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(agentType).Observe(d.Seconds())
}

func (m *Metrics) ObserveQuality(taskType string, score int) {
	if m == nil {
		return
	}
	m.qualityScores.WithLabelValues(taskType).Observe(float64(score))
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}
