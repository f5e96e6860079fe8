package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectionMetrics tracks the raw detection stream and the debouncer verdicts.
type DetectionMetrics struct {
	Frames            prometheus.Counter
	FrameErrors       prometheus.Counter
	DetectionsTotal   *prometheus.CounterVec
	SightingsTotal    *prometheus.CounterVec
	TrackedClasses    prometheus.Gauge
	LastSightingEpoch prometheus.Gauge
}

// NewDetectionMetrics creates and registers the detection collectors.
func NewDetectionMetrics(registry *prometheus.Registry) (*DetectionMetrics, error) {
	m := &DetectionMetrics{
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wildwatch_frames_total",
			Help: "Total number of detection frames processed",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wildwatch_frame_errors_total",
			Help: "Total number of malformed or dropped detection frames",
		}),
		DetectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildwatch_detections_total",
			Help: "Raw detections by class and debouncer status",
		}, []string{"class", "status"}),
		SightingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildwatch_sightings_total",
			Help: "Confirmed sightings by class",
		}, []string{"class"}),
		TrackedClasses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wildwatch_tracked_classes",
			Help: "Number of classes currently held by the debouncer",
		}),
		LastSightingEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wildwatch_last_sighting_timestamp_seconds",
			Help: "Unix time of the most recent confirmed sighting",
		}),
	}

	for _, c := range []prometheus.Collector{m.Frames, m.FrameErrors, m.DetectionsTotal, m.SightingsTotal, m.TrackedClasses, m.LastSightingEpoch} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register detection metrics: %w", err)
		}
	}
	return m, nil
}

// RecordFrame counts one processed frame.
func (m *DetectionMetrics) RecordFrame() { m.Frames.Inc() }

// RecordFrameError counts one dropped frame.
func (m *DetectionMetrics) RecordFrameError() { m.FrameErrors.Inc() }

// RecordDetection counts one detection verdict.
func (m *DetectionMetrics) RecordDetection(class, status string) {
	m.DetectionsTotal.WithLabelValues(class, status).Inc()
}

// RecordSighting counts one confirmed sighting at unixSeconds.
func (m *DetectionMetrics) RecordSighting(class string, unixSeconds float64) {
	m.SightingsTotal.WithLabelValues(class).Inc()
	m.LastSightingEpoch.Set(unixSeconds)
}

// SetTrackedClasses reports the debouncer state size.
func (m *DetectionMetrics) SetTrackedClasses(n int) { m.TrackedClasses.Set(float64(n)) }
