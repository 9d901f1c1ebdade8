package orchestrator

import "fmt"

// NotAvailableError marks a step whose provider or capability could
// not be resolved against the current registry state.
type NotAvailableError struct {
	Provider   string
	Capability string
	Err        error
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("%s.%s not available: %v", e.Provider, e.Capability, e.Err)
}

func (e *NotAvailableError) Unwrap() error { return e.Err }

// PlanningError means no acceptable plan was produced for a request.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return "planning failed: " + e.Reason
}

func (e *PlanningError) Unwrap() error { return e.Err }

// SynthesisError means the final answer could not be produced.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
