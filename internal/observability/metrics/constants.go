// Package metrics provides constants used across metric definitions.
package metrics

// Operation names recorded through Recorder implementations.
const (
	// OpDetect is one inference call.
	OpDetect = "detect"
	// OpHealth is a detector health probe.
	OpHealth = "health"
	// OpQueueWait is time spent waiting for a detector slot.
	OpQueueWait = "queue_wait"
	// OpSweep is one retention sweep of a directory.
	OpSweep = "sweep"
	// OpDiskCheck is a disk usage probe.
	OpDiskCheck = "disk_check"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// PercentageFactor is the multiplier to convert ratio to percentage.
const PercentageFactor = 100.0
