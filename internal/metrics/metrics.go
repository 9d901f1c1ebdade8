package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "autopilot"

// Metrics holds the autopilot collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Runs              *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	Steps             *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	InferenceErrors   *prometheus.CounterVec
	ProviderConnects  *prometheus.CounterVec
	ScheduledRuns     *prometheus.CounterVec
}

// New registers the collectors with reg. Use prometheus.NewRegistry in
// tests to avoid clashing with the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of orchestration runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "End-to-end orchestration run duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		Steps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of executed plan steps",
			},
			[]string{"provider", "status"},
		),
		InferenceDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Inference call latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		InferenceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inference_errors_total",
				Help:      "Total number of failed inference calls",
			},
			[]string{"phase"},
		),
		ProviderConnects: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_connects_total",
				Help:      "Total number of tool provider connect attempts",
			},
			[]string{"provider", "result"},
		),
		ScheduledRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduled_runs_total",
				Help:      "Total number of scheduled requests fired",
			},
			[]string{"schedule"},
		),
	}
}

func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveStep(provider, status string) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) ObserveInference(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.InferenceDuration.WithLabelValues(phase).Observe(d.Seconds())
	if err != nil {
		m.InferenceErrors.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) ObserveConnect(provider string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ProviderConnects.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ObserveScheduled(name string) {
	if m == nil {
		return
	}
	m.ScheduledRuns.WithLabelValues(name).Inc()
}
