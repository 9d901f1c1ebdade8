package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("completed", 2*time.Second)
	m.ObserveRun("completed", time.Second)
	m.ObserveRun("aborted", time.Second)
	m.ObserveStep("tavily", "success")
	m.ObserveStep("tavily", "failed")
	m.ObserveInference("planning", 300*time.Millisecond, nil)
	m.ObserveInference("synthesis", time.Second, errors.New("timeout"))
	m.ObserveConnect("workspace", nil)
	m.ObserveConnect("workspace", errors.New("refused"))
	m.ObserveScheduled("daily-digest")

	if got := testutil.ToFloat64(m.Runs.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed runs = %v", got)
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("aborted")); got != 1 {
		t.Errorf("aborted runs = %v", got)
	}
	if got := testutil.ToFloat64(m.Steps.WithLabelValues("tavily", "failed")); got != 1 {
		t.Errorf("failed steps = %v", got)
	}
	if got := testutil.ToFloat64(m.InferenceErrors.WithLabelValues("synthesis")); got != 1 {
		t.Errorf("synthesis errors = %v", got)
	}
	if got := testutil.ToFloat64(m.InferenceErrors.WithLabelValues("planning")); got != 0 {
		t.Errorf("planning errors = %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderConnects.WithLabelValues("workspace", "failure")); got != 1 {
		t.Errorf("connect failures = %v", got)
	}
	if got := testutil.ToFloat64(m.ScheduledRuns.WithLabelValues("daily-digest")); got != 1 {
		t.Errorf("scheduled runs = %v", got)
	}
	if n := testutil.CollectAndCount(m.InferenceDuration); n != 2 {
		t.Errorf("inference series = %d", n)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRun("completed", time.Second)
	m.ObserveStep("p", "success")
	m.ObserveInference("planning", time.Second, nil)
	m.ObserveConnect("p", nil)
	m.ObserveScheduled("s")
}

func TestSeparateRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
