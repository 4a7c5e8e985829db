// Package metrics provides the Prometheus metrics of the quantification
// engine.
package metrics

// Recorder is the narrow metrics surface the engine depends on.
type Recorder interface {
	// RecordAnalysis counts a finished analysis by type and status
	// ("success", "error").
	RecordAnalysis(analysisType, status string)

	// RecordQAFlag counts a raised QA flag ("saturation", "drift",
	// "outliers", "out_of_range").
	RecordQAFlag(flag string)

	// RecordCurveFit counts a calibration fit ("success", "degenerate").
	RecordCurveFit(status string)

	// RecordRemoteRequest counts a remote call by endpoint and outcome
	// ("success", "retry", "network_error", "rejected").
	RecordRemoteRequest(endpoint, outcome string)

	// RecordDuration observes how long an operation took.
	RecordDuration(operation string, seconds float64)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordAnalysis(string, string)      {}
func (NopRecorder) RecordQAFlag(string)                {}
func (NopRecorder) RecordCurveFit(string)              {}
func (NopRecorder) RecordRemoteRequest(string, string) {}
func (NopRecorder) RecordDuration(string, float64)     {}
