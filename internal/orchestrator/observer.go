package orchestrator

import "time"

// Observer receives run, step and inference events, typically to feed
// metrics. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveRun(outcome string, d time.Duration)
	ObserveStep(provider string, status string)
	ObserveInference(phase string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveRun(string, time.Duration)              {}
func (nopObserver) ObserveStep(string, string)                    {}
func (nopObserver) ObserveInference(string, time.Duration, error) {}
