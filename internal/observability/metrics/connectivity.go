package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConnectivityMetrics tracks reachability probes.
type ConnectivityMetrics struct {
	Probes       *prometheus.CounterVec
	ProbeLatency *prometheus.HistogramVec
	Reachable    prometheus.Gauge
}

// NewConnectivityMetrics creates and registers the probe collectors.
func NewConnectivityMetrics(registry *prometheus.Registry) (*ConnectivityMetrics, error) {
	m := &ConnectivityMetrics{
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildwatch_probes_total",
			Help: "Connectivity probes by kind and result",
		}, []string{"kind", "result"}),
		ProbeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wildwatch_probe_duration_seconds",
			Help:    "Duration of connectivity probes",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		}, []string{"kind"}),
		Reachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wildwatch_sink_reachable",
			Help: "Result of the last probe (1 reachable, 0 unreachable)",
		}),
	}

	for _, c := range []prometheus.Collector{m.Probes, m.ProbeLatency, m.Reachable} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register connectivity metrics: %w", err)
		}
	}
	return m, nil
}

// RecordProbe records one probe outcome.
func (m *ConnectivityMetrics) RecordProbe(kind string, reachable bool, d time.Duration) {
	result := "unreachable"
	if reachable {
		result = "reachable"
		m.Reachable.Set(1)
	} else {
		m.Reachable.Set(0)
	}
	m.Probes.WithLabelValues(kind, result).Inc()
	m.ProbeLatency.WithLabelValues(kind).Observe(d.Seconds())
}
