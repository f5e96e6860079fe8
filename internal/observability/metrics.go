// Package observability wires the Prometheus collectors of the agent into a
// single registry. Error telemetry is handled in the telemetry package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/wildwatch-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	Detection    *metrics.DetectionMetrics
	Store        *metrics.StoreMetrics
	Connectivity *metrics.ConnectivityMetrics
	Relay        *metrics.RelayMetrics
	HTTP         *metrics.HTTPMetrics
}

// NewMetrics creates a registry with every collector registered, plus the
// Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	m := &Metrics{registry: registry}
	var err error

	if m.Detection, err = metrics.NewDetectionMetrics(registry); err != nil {
		return nil, err
	}
	if m.Store, err = metrics.NewStoreMetrics(registry); err != nil {
		return nil, err
	}
	if m.Connectivity, err = metrics.NewConnectivityMetrics(registry); err != nil {
		return nil, err
	}
	if m.Relay, err = metrics.NewRelayMetrics(registry); err != nil {
		return nil, err
	}
	if m.HTTP, err = metrics.NewHTTPMetrics(registry); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
