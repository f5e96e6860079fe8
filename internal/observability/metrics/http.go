package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics tracks outbound HTTP requests made by the probe and the sinks.
type HTTPMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers the outbound HTTP collectors.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildwatch_http_client_requests_total",
			Help: "Outbound HTTP requests by host, method and status code",
		}, []string{"host", "method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wildwatch_http_client_request_duration_seconds",
			Help:    "Outbound HTTP request latency",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms*5, BucketFactor2, BucketCount12),
		}, []string{"host", "method"}),
	}

	for _, c := range []prometheus.Collector{m.Requests, m.RequestDuration} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveResponse matches the httpclient after-response hook signature.
func (m *HTTPMetrics) ObserveResponse(req *http.Request, resp *http.Response, d time.Duration, err error) {
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	m.Requests.WithLabelValues(req.URL.Host, req.Method, code).Inc()
	m.RequestDuration.WithLabelValues(req.URL.Host, req.Method).Observe(d.Seconds())
}
