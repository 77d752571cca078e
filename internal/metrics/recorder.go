// Package metrics exposes export observability hooks.
package metrics

import "time"

// Recorder defines observability hooks for exports. Implementations may
// forward to Prometheus or discard everything.
type Recorder interface {
	// ObserveExportDuration records a whole export; mode is "prebuilt" or
	// "build".
	ObserveExportDuration(mode string, d time.Duration)
	// ObserveStepDuration records one export step (bind, arbitrate,
	// materialize, finalize).
	ObserveStepDuration(step string, d time.Duration)
	// IncExportOutcome counts finished exports; outcome is "exported" or
	// an error kind.
	IncExportOutcome(outcome string)
	// IncRecovered counts destinations purged because of a dirty marker.
	IncRecovered()
}

// NoopRecorder is a Recorder that does nothing (default when metrics are
// not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveExportDuration(string, time.Duration) {}
func (NoopRecorder) ObserveStepDuration(string, time.Duration)   {}
func (NoopRecorder) IncExportOutcome(string)                     {}
func (NoopRecorder) IncRecovered()                               {}
