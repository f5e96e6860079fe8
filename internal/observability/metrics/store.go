package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics tracks event store appends.
type StoreMetrics struct {
	Appends       *prometheus.CounterVec
	AppendLatency prometheus.Histogram
	Events        prometheus.Gauge
}

// NewStoreMetrics creates and registers the store collectors.
func NewStoreMetrics(registry *prometheus.Registry) (*StoreMetrics, error) {
	m := &StoreMetrics{
		Appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildwatch_store_appends_total",
			Help: "Event store appends by status",
		}, []string{"status"}),
		AppendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wildwatch_store_append_duration_seconds",
			Help:    "Duration of a synced event store append",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms/10, BucketFactor2, BucketCount12),
		}),
		Events: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wildwatch_store_events",
			Help: "Number of rows in the event store",
		}),
	}

	for _, c := range []prometheus.Collector{m.Appends, m.AppendLatency, m.Events} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register store metrics: %w", err)
		}
	}
	return m, nil
}

// RecordAppend records one append attempt.
func (m *StoreMetrics) RecordAppend(err error, seconds float64, events int) {
	if err != nil {
		m.Appends.WithLabelValues(StatusError).Inc()
		return
	}
	m.Appends.WithLabelValues(StatusSuccess).Inc()
	m.AppendLatency.Observe(seconds)
	m.Events.Set(float64(events))
}
