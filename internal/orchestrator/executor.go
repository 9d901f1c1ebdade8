package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/opentalon/autopilot/internal/capability"
)

// Invoker calls one capability on one provider.
type Invoker interface {
	Invoke(ctx context.Context, provider, capability string, args map[string]any) (string, error)
}

// Executor runs plan steps one at a time. A failed step never stops
// the run: every step is attempted and gets exactly one StepResult.
type Executor struct {
	invoker  Invoker
	observer Observer
	logger   *slog.Logger
}

func NewExecutor(invoker Invoker, observer Observer, logger *slog.Logger) *Executor {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{invoker: invoker, observer: observer, logger: logger}
}

// Run executes plan.Steps in ascending Sequence order. Providers are
// resolved at call time, so a provider that went away after planning
// yields a failed step with *NotAvailableError.
func (e *Executor) Run(ctx context.Context, plan *Plan) []StepResult {
	steps := slices.Clone(plan.Steps)
	sortSteps(steps)

	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		value, err := e.invoker.Invoke(ctx, step.Provider, step.Capability, step.Arguments)
		if err != nil {
			err = classify(step, err)
			results = append(results, StepResult{Step: step, Status: StepFailed, Err: err})
			e.observer.ObserveStep(step.Provider, string(StepFailed))
			e.logger.Warn("step failed",
				"step", step.Sequence,
				"provider", step.Provider,
				"capability", step.Capability,
				"error", err)
			continue
		}

		results = append(results, StepResult{Step: step, Status: StepSuccess, Value: value})
		e.observer.ObserveStep(step.Provider, string(StepSuccess))
		e.logger.Debug("step succeeded",
			"step", step.Sequence,
			"provider", step.Provider,
			"capability", step.Capability,
			"bytes", len(value))
	}
	return results
}

func classify(step Step, err error) error {
	var (
		unknownProvider *capability.UnknownProviderError
		notConnected    *capability.NotConnectedError
		unknownCap      *capability.UnknownCapabilityError
	)
	if errors.As(err, &unknownProvider) || errors.As(err, &notConnected) || errors.As(err, &unknownCap) {
		return &NotAvailableError{Provider: step.Provider, Capability: step.Capability, Err: err}
	}
	return err
}
