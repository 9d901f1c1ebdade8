package orchestrator

import (
	"encoding/json"
	"time"
)

// Step is one capability invocation in a Plan. Steps run strictly in
// Sequence order; later steps may depend on the side effects of
// earlier ones.
type Step struct {
	Sequence   int            `json:"step"`
	Provider   string         `json:"provider"`
	Capability string         `json:"capability"`
	Arguments  map[string]any `json:"arguments"`
	Purpose    string         `json:"purpose,omitempty"`
}

// Plan is the planner's answer for one request.
type Plan struct {
	Rationale string `json:"rationale"`
	Steps     []Step `json:"steps"`
}

type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

// StepResult is the outcome of one attempted Step. Value is set on
// success, Err on failure.
type StepResult struct {
	Step   Step
	Status StepStatus
	Value  string
	Err    error
}

func (r StepResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Step   Step       `json:"step"`
		Status StepStatus `json:"status"`
		Value  string     `json:"value,omitempty"`
		Error  string     `json:"error,omitempty"`
	}{Step: r.Step, Status: r.Status, Value: r.Value}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeCompletedWithErrors Outcome = "completed_with_errors"
	OutcomeAborted             Outcome = "aborted"
)

// Request is one natural-language request plus optional caller context
// (for example the channel it arrived on).
type Request struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

// ExecutionRecord describes one finished run. Plan is nil and
// StepResults empty when planning failed.
type ExecutionRecord struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Request     string            `json:"request"`
	Context     map[string]string `json:"context,omitempty"`
	Plan        *Plan             `json:"plan,omitempty"`
	StepResults []StepResult      `json:"step_results"`
	FinalAnswer string            `json:"final_answer,omitempty"`
	Outcome     Outcome           `json:"outcome"`
	Duration    time.Duration     `json:"duration_ns"`
	Error       string            `json:"error,omitempty"`
}

// Failed returns the number of failed steps.
func (r *ExecutionRecord) Failed() int {
	n := 0
	for _, sr := range r.StepResults {
		if sr.Status == StepFailed {
			n++
		}
	}
	return n
}
