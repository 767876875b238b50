package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics records API request counts and latencies. Routes are the
// router's patterns, never raw paths, so cardinality stays bounded.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	limited  prometheus.Counter
}

// NewHTTPMetrics creates HTTP metrics registered with reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of API requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "API request latency by route",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 60},
			},
			[]string{"route"},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of API requests being served",
			},
		),
		limited: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Total number of API requests rejected by the rate limiter",
			},
		),
	}
}

// Begin marks a request as in flight and returns the function that
// records its completion.
func (m *HTTPMetrics) Begin() func(route, method string, code int) {
	if m == nil {
		return func(string, string, int) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(route, method string, code int) {
		m.inFlight.Dec()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// RateLimited counts a rejected request.
func (m *HTTPMetrics) RateLimited() {
	if m == nil {
		return
	}
	m.limited.Inc()
}
