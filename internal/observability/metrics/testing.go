package metrics

import (
	"slices"
	"sync"
)

// TestRecorder captures recorded metrics for assertions in tests.
type TestRecorder struct {
	mu        sync.RWMutex
	analyses  map[string]map[string]int // type -> status -> count
	flags     map[string]int
	fits      map[string]int
	remote    map[string]map[string]int // endpoint -> outcome -> count
	durations map[string][]float64
}

// NewTestRecorder returns an empty TestRecorder.
func NewTestRecorder() *TestRecorder {
	return &TestRecorder{
		analyses:  make(map[string]map[string]int),
		flags:     make(map[string]int),
		fits:      make(map[string]int),
		remote:    make(map[string]map[string]int),
		durations: make(map[string][]float64),
	}
}

func bump(m map[string]map[string]int, k1, k2 string) {
	if m[k1] == nil {
		m[k1] = make(map[string]int)
	}
	m[k1][k2]++
}

// RecordAnalysis implements Recorder.
func (r *TestRecorder) RecordAnalysis(analysisType, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bump(r.analyses, analysisType, status)
}

// RecordQAFlag implements Recorder.
func (r *TestRecorder) RecordQAFlag(flag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[flag]++
}

// RecordCurveFit implements Recorder.
func (r *TestRecorder) RecordCurveFit(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fits[status]++
}

// RecordRemoteRequest implements Recorder.
func (r *TestRecorder) RecordRemoteRequest(endpoint, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bump(r.remote, endpoint, outcome)
}

// RecordDuration implements Recorder.
func (r *TestRecorder) RecordDuration(operation string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] = append(r.durations[operation], seconds)
}

// AnalysisCount returns how often an analysis type finished with status.
func (r *TestRecorder) AnalysisCount(analysisType, status string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.analyses[analysisType][status]
}

// FlagCount returns how often flag was raised.
func (r *TestRecorder) FlagCount(flag string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags[flag]
}

// CurveFitCount returns how many fits ended with status.
func (r *TestRecorder) CurveFitCount(status string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fits[status]
}

// RemoteCount returns how many calls to endpoint ended with outcome.
func (r *TestRecorder) RemoteCount(endpoint, outcome string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote[endpoint][outcome]
}

// Durations returns a copy of the durations recorded for operation.
func (r *TestRecorder) Durations(operation string) []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.durations[operation])
}
