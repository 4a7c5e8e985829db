package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/specphone/specphone/internal/errors"
)

const namespace = "specphone"

// Metrics holds the engine collectors and the registry they live in.
type Metrics struct {
	Analyses       *prometheus.CounterVec
	QAFlags        *prometheus.CounterVec
	CurveFits      *prometheus.CounterVec
	RemoteRequests *prometheus.CounterVec
	Durations      *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them in a fresh registry.
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates the collectors and registers them in registry.
func NewWithRegistry(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, errors.New(err).
			Component("metrics").
			Category(errors.CategoryConfiguration).
			Context("operation", "register").
			Build()
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.Analyses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analyses_total",
		Help:      "Total number of analyses by type and status",
	}, []string{"type", "status"})

	m.QAFlags = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "qa_flags_total",
		Help:      "Total number of raised QA flags",
	}, []string{"flag"})

	m.CurveFits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "curve_fits_total",
		Help:      "Total number of calibration fits by status",
	}, []string{"status"})

	m.RemoteRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_requests_total",
		Help:      "Total number of remote quantifier calls by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	m.Durations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of engine operations in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"operation"})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Analyses.Describe(ch)
	m.QAFlags.Describe(ch)
	m.CurveFits.Describe(ch)
	m.RemoteRequests.Describe(ch)
	m.Durations.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Analyses.Collect(ch)
	m.QAFlags.Collect(ch)
	m.CurveFits.Collect(ch)
	m.RemoteRequests.Collect(ch)
	m.Durations.Collect(ch)
}

// Registry returns the registry the collectors are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAnalysis implements Recorder.
func (m *Metrics) RecordAnalysis(analysisType, status string) {
	m.Analyses.WithLabelValues(analysisType, status).Inc()
}

// RecordQAFlag implements Recorder.
func (m *Metrics) RecordQAFlag(flag string) {
	m.QAFlags.WithLabelValues(flag).Inc()
}

// RecordCurveFit implements Recorder.
func (m *Metrics) RecordCurveFit(status string) {
	m.CurveFits.WithLabelValues(status).Inc()
}

// RecordRemoteRequest implements Recorder.
func (m *Metrics) RecordRemoteRequest(endpoint, outcome string) {
	m.RemoteRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordDuration implements Recorder.
func (m *Metrics) RecordDuration(operation string, seconds float64) {
	m.Durations.WithLabelValues(operation).Observe(seconds)
}
