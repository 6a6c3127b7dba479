package metrics

import "time"

// Operation names recorded through Recorder
const (
	// OpInspect is a metadata header read
	OpInspect = "inspect"
	// OpCacheGet is a metadata cache lookup
	OpCacheGet = "cache_get"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusHit     = "hit"
	StatusMiss    = "miss"
)

// Output lanes
const (
	LaneMusic = "music"
	LaneVoice = "voice"
)

// Histogram bucket configuration
const (
	// BucketStart100us starts 0.1ms histograms
	BucketStart100us = 0.0001
	// BucketFactor2 is the common exponential growth factor
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets
	BucketCount12 = 12
	// BucketCount14 defines 14 exponential buckets
	BucketCount14 = 14
)

// Time and conversion constants
const (
	// ShutdownTimeout is the timeout for graceful shutdown of the metrics endpoint
	ShutdownTimeout = 5 * time.Second
	// PercentageFactor converts a ratio to a percentage
	PercentageFactor = 100.0
)
