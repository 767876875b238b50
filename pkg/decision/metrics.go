package decision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the decision engine.
type Metrics struct {
	evaluations *prometheus.CounterVec
	reasons     *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewMetrics creates decision metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "decision",
				Name:      "evaluations_total",
				Help:      "Total number of evaluations by feature and outcome",
			},
			[]string{"feature", "outcome"},
		),
		reasons: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "decision",
				Name:      "reasons_total",
				Help:      "Total number of decision reasons by code",
			},
			[]string{"code"},
		),
		duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "governor",
				Subsystem: "decision",
				Name:      "evaluation_duration_seconds",
				Help:      "Time spent evaluating a request",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
	}
}

func (m *Metrics) record(d *Decision) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(string(d.Feature), string(d.Outcome)).Inc()
	for _, r := range d.Reasons {
		m.reasons.WithLabelValues(string(r.Code)).Inc()
	}
	m.duration.Observe(d.Duration.Seconds())
}
