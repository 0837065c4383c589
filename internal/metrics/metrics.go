// Package metrics counts job outcomes and durations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeWarning = "warning"
	OutcomeFailure = "failure"
)

// Metrics holds the job collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	rowsPersisted *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "jobs_total",
			Help:      "Finished jobs by kind and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldops",
			Name:      "job_duration_seconds",
			Help:      "Job wall time.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),
		rowsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "rows_persisted_total",
			Help:      "Rows written to the database by target entity.",
		}, []string{"entity"}),
	}
	m.registry.MustRegister(m.jobsTotal, m.jobDuration, m.rowsPersisted)
	return m
}

// ObserveJob records one finished job. A nil Metrics is a no-op.
func (m *Metrics) ObserveJob(job, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

// AddRows counts rows persisted to entity.
func (m *Metrics) AddRows(entity string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsPersisted.WithLabelValues(entity).Add(float64(n))
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
