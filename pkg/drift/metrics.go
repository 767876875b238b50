package drift

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for drift detection.
type Metrics struct {
	signals *prometheus.CounterVec
	open    *prometheus.GaugeVec
}

// NewMetrics creates drift metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "drift",
				Name:      "signals_total",
				Help:      "Total number of new drift signals by type and severity",
			},
			[]string{"type", "severity"},
		),
		open: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "governor",
				Subsystem: "drift",
				Name:      "open_signals",
				Help:      "Open drift signals by severity",
			},
			[]string{"severity"},
		),
	}
}

func (m *Metrics) recordSignal(s *Signal) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(string(s.Type), string(s.Severity)).Inc()
}

func (m *Metrics) setOpen(signals []*Signal) {
	if m == nil {
		return
	}
	counts := map[Severity]int{SeverityLow: 0, SeverityMedium: 0, SeverityHigh: 0, SeverityCritical: 0}
	for _, s := range signals {
		counts[s.Severity]++
	}
	for sev, n := range counts {
		m.open.WithLabelValues(string(sev)).Set(float64(n))
	}
}
