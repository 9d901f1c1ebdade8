package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opentalon/autopilot/internal/provider"
)

const maxErrorSummary = 300

const synthesisSystemPrompt = `You write the final answer to a user's request. You are given the request and the results of the tool calls that were made for it.

Write a clear, direct answer in plain language. Use only facts found in the tool results. When a step failed, say briefly what could not be obtained.
`

// Synthesizer produces the final answer with exactly one inference call.
type Synthesizer struct {
	llm      LLMClient
	params   InferenceParams
	guard    *Guard
	rules    *RulesConfig
	observer Observer
	logger   *slog.Logger
}

func NewSynthesizer(llm LLMClient, params InferenceParams, guard *Guard, rules *RulesConfig, observer Observer, logger *slog.Logger) *Synthesizer {
	if guard == nil {
		guard = NewGuard(0)
	}
	if rules == nil {
		rules = NewRulesConfig(nil)
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{llm: llm, params: params, guard: guard, rules: rules, observer: observer, logger: logger}
}

// Synthesize answers req from results. The call is made even when every
// step failed; the prompt then asks the model to explain that nothing
// could be obtained. Errors are *SynthesisError.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request, plan *Plan, results []StepResult) (string, error) {
	callCtx, cancel := withOptionalTimeout(ctx, s.params.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.llm.Complete(callCtx, &provider.CompletionRequest{
		Model: s.params.Model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: synthesisSystemPrompt + "\n" + s.rules.BuildPromptSection()},
			{Role: provider.RoleUser, Content: s.buildPrompt(req, plan, results)},
		},
		MaxTokens:   s.params.MaxTokens,
		Temperature: provider.Float(s.params.Temperature),
	})
	s.observer.ObserveInference("synthesis", time.Since(start), err)
	if err != nil {
		return "", &SynthesisError{Err: err}
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", &SynthesisError{Err: errors.New("empty answer from inference service")}
	}
	return answer, nil
}

func (s *Synthesizer) buildPrompt(req Request, plan *Plan, results []StepResult) string {
	var sb strings.Builder
	sb.WriteString("## Request\n")
	sb.WriteString(req.Text)
	sb.WriteString("\n\n")

	if plan != nil && plan.Rationale != "" {
		sb.WriteString("## Plan\n")
		sb.WriteString(plan.Rationale)
		sb.WriteString("\n\n")
	}

	if len(results) == 0 {
		sb.WriteString("## Tool results\nNo tools were called for this request. Answer from the request alone, and say so if it needs data you do not have.\n")
		return sb.String()
	}

	sb.WriteString("## Tool results\n")
	failed := 0
	for _, r := range results {
		fmt.Fprintf(&sb, "### Step %d: %s.%s\n", r.Step.Sequence, r.Step.Provider, r.Step.Capability)
		if r.Step.Purpose != "" {
			fmt.Fprintf(&sb, "purpose: %s\n", oneLine(r.Step.Purpose))
		}
		fmt.Fprintf(&sb, "status: %s\n", r.Status)
		if r.Status == StepSuccess {
			sb.WriteString(s.guard.Wrap(r.Value))
		} else {
			failed++
			fmt.Fprintf(&sb, "error: %s", summarizeError(r.Err))
		}
		sb.WriteString("\n\n")
	}

	if failed == len(results) {
		sb.WriteString("Every step failed, so no data was obtained. Tell the user the request could not be completed and why, based on the errors above. Do not make up an answer.\n")
	}
	return sb.String()
}

func summarizeError(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := oneLine(err.Error())
	if len(msg) > maxErrorSummary {
		msg = cutUTF8(msg, maxErrorSummary) + "..."
	}
	return msg
}
