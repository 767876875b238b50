package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for scheduled jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates scheduler metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "scheduler",
				Name:      "job_runs_total",
				Help:      "Total number of job runs by job and result",
			},
			[]string{"job", "result"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "governor",
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Job run duration",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"job"},
		),
	}
}

func (m *Metrics) record(job string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.runs.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job).Observe(d.Seconds())
}
