package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics tracks relay runs and their outcomes.
type RelayMetrics struct {
	Runs         *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	BytesSent    prometheus.Counter
	PayloadBytes prometheus.Histogram
	LastSuccess  prometheus.Gauge
}

// NewRelayMetrics creates and registers the relay collectors.
func NewRelayMetrics(registry *prometheus.Registry) (*RelayMetrics, error) {
	m := &RelayMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildwatch_relay_runs_total",
			Help: "Relay runs by sink, object outcome and failing step",
		}, []string{"sink", "outcome", "step"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wildwatch_relay_run_duration_seconds",
			Help:    "Duration of relay runs",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms*10, BucketFactor2, BucketCount12),
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wildwatch_relay_bytes_sent_total",
			Help: "Bytes transferred to the relay sink",
		}),
		PayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wildwatch_relay_payload_bytes",
			Help:    "Size of the relayed store snapshot",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount16),
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wildwatch_relay_last_success_timestamp_seconds",
			Help: "Unix time of the last successful relay run",
		}),
	}

	for _, c := range []prometheus.Collector{m.Runs, m.RunDuration, m.BytesSent, m.PayloadBytes, m.LastSuccess} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register relay metrics: %w", err)
		}
	}
	return m, nil
}

// RecordRun records one relay run. step is empty unless the run failed;
// sent is the number of bytes transferred, zero when nothing was uploaded.
func (m *RelayMetrics) RecordRun(sink, outcome, step string, d time.Duration, payload, sent int) {
	m.Runs.WithLabelValues(sink, outcome, step).Inc()
	m.RunDuration.Observe(d.Seconds())
	m.PayloadBytes.Observe(float64(payload))
	if step == "" {
		m.LastSuccess.SetToCurrentTime()
	}
	if sent > 0 {
		m.BytesSent.Add(float64(sent))
	}
}
