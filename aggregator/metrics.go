package aggregator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for refresh cycles
type Metrics struct {
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram

	PartialData  prometheus.Gauge
	SiteMisses   prometheus.Counter
	MonitorCount prometheus.Gauge
	RegionCount  prometheus.Gauge
}

// NewMetrics creates and registers the refresh cycle metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsresults_refresh_total",
				Help: "Refresh cycles by result (ok, partial, error)",
			},
			[]string{"result"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dnsresults_refresh_duration_seconds",
				Help:    "Duration of refresh cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		PartialData: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dnsresults_partial_data_monitors",
				Help: "Monitors missing summary or health data in the last cycle",
			},
		),
		SiteMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dnsresults_site_registry_misses_total",
				Help: "Home regions without coordinates in the site registry",
			},
		),
		MonitorCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dnsresults_snapshot_monitors",
				Help: "Monitors in the last published snapshot",
			},
		),
		RegionCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dnsresults_snapshot_regions",
				Help: "Regions in the last published snapshot",
			},
		),
	}

	reg.MustRegister(
		m.Refreshes,
		m.RefreshDuration,
		m.PartialData,
		m.SiteMisses,
		m.MonitorCount,
		m.RegionCount,
	)

	return m
}

func (m *Metrics) cycle(result string, dur time.Duration) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(dur.Seconds())
}

func (m *Metrics) snapshot(s *Snapshot, missing int) {
	if m == nil {
		return
	}
	m.PartialData.Set(float64(missing))
	m.MonitorCount.Set(float64(len(s.Monitors)))
	m.RegionCount.Set(float64(len(s.Results)))
}

func (m *Metrics) siteMiss() {
	if m == nil {
		return
	}
	m.SiteMisses.Inc()
}
