// Package metrics provides Prometheus metrics for the playback engine and its collaborators.
package metrics

// Recorder defines a minimal interface for recording metrics. Components
// that only need operation counts and timings depend on it instead of a
// concrete metrics type.
type Recorder interface {
	// RecordOperation records an operation with its status, e.g. "inspect", "success".
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	RecordError(operation, errorType string)
}
