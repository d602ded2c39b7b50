// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Label values for the flush mode label.
const (
	FlushModeDrain = "drain"
	FlushModeForce = "force"
)

// Label values for failure reasons.
const (
	ReasonFull            = "full"
	ReasonOverlap         = "overlap"
	ReasonInvalidArgument = "invalid_argument"
	ReasonNotInitialized  = "not_initialized"
	ReasonOther           = "other"
)

// Label names
const (
	labelStream = "stream_id"
	labelReason = "reason"
	labelMode   = "mode"
	labelDevice = "device"
	labelOp     = "operation"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~16s range).
	BucketStart1ms = 0.001
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~400ms range).
	BucketStart100us = 0.0001

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown of the metrics server.
const ShutdownTimeout = 5 * time.Second
