// Package metrics provides custom Prometheus metrics for pestwatch.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on it rather than on concrete metric types so tests can
// pass a no-op or a fake.
type Recorder interface {
	// RecordOperation records an operation with its status ("success", "error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type, usually an error category.
	RecordError(operation, errorType string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string) {}

var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*DetectorMetrics)(nil)
	_ Recorder = (*DiskManagerMetrics)(nil)
)
