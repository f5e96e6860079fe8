// Package metrics provides the Prometheus collectors of the WildWatch agent.
package metrics

import "time"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket configuration.
const (
	BucketStart1ms  = 0.001
	BucketFactor2   = 2
	BucketCount12   = 12
	BucketStart64B  = 64
	BucketCount16   = 16
	ShutdownTimeout = 5 * time.Second
)
