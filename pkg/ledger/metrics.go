package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger/storage"
)

// Metrics holds Prometheus collectors for the ledger.
type Metrics struct {
	headroomChecks *prometheus.CounterVec
	exhaustions    *prometheus.CounterVec
	consumed       *prometheus.CounterVec
	swept          prometheus.Counter
	opDuration     *prometheus.HistogramVec
}

// NewMetrics creates ledger metrics registered with reg. A nil registerer
// leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		headroomChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "ledger",
				Name:      "headroom_checks_total",
				Help:      "Total number of budget headroom checks",
			},
			[]string{"target", "result"},
		),
		exhaustions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "ledger",
				Name:      "exhaustions_total",
				Help:      "Total number of checks denied for lack of headroom, by period",
			},
			[]string{"target", "period"},
		),
		consumed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "ledger",
				Name:      "consumed_total",
				Help:      "Total consumption recorded per dimension",
			},
			[]string{"target", "dimension"},
		),
		swept: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "ledger",
				Name:      "swept_buckets_total",
				Help:      "Total number of stale buckets evicted",
			},
		),
		opDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "governor",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Ledger backend operation latency",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 3},
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) recordCheck(target string, hasRoom bool) {
	if m == nil {
		return
	}
	result := "room"
	if !hasRoom {
		result = "exhausted"
	}
	m.headroomChecks.WithLabelValues(target, result).Inc()
}

func (m *Metrics) recordExhaustion(target, period string) {
	if m == nil {
		return
	}
	m.exhaustions.WithLabelValues(target, period).Inc()
}

func (m *Metrics) recordConsumed(target string, delta storage.Counters) {
	if m == nil {
		return
	}
	for i, v := range delta.Values() {
		if v > 0 {
			m.consumed.WithLabelValues(target, storage.Dimensions[i]).Add(float64(v))
		}
	}
}

func (m *Metrics) recordSwept(n int) {
	if m == nil {
		return
	}
	m.swept.Add(float64(n))
}

func (m *Metrics) observe(op string, seconds float64) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(op).Observe(seconds)
}
