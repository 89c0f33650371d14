package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts and times upstream API calls.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates and registers the upstream call metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsresults_upstream_requests_total",
				Help: "Upstream API requests by call and response status",
			},
			[]string{"call", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dnsresults_upstream_request_duration_seconds",
				Help:    "Upstream API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"call"},
		),
	}

	reg.MustRegister(m.Requests, m.Duration)

	return m
}

func (m *Metrics) observe(call, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(call, status).Inc()
	m.Duration.WithLabelValues(call).Observe(dur.Seconds())
}
