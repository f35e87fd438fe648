package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "credit_billing_"

const (
	statusSuccess = "success"
	statusError   = "error"
	statusSkipped = "skipped"
)

// Metrics holds the job collectors. Register them once per registry.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "job_runs_total",
				Help: "Billing job runs by final status",
			},
			[]string{"job", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "job_duration_seconds",
				Help:    "Billing job duration in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "job_items_total",
				Help: "Statements handled by billing jobs by outcome",
			},
			[]string{"job", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.items)
	}
	return m
}

func (m *Metrics) observe(job, status string, elapsed time.Duration, items map[string]int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job, status).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	for outcome, n := range items {
		if n > 0 {
			m.items.WithLabelValues(job, outcome).Add(float64(n))
		}
	}
}
