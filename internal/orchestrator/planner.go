package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/opentalon/autopilot/internal/provider"
)

// LLMClient is the inference service used for planning and synthesis.
type LLMClient interface {
	Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

// InferenceParams shape one kind of inference call.
type InferenceParams struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

const planningSystemPrompt = `You plan tool calls for an assistant. Given a user request and a catalog of tools, decide which tools to call, in which order, and with which arguments.

Respond with a single JSON object and nothing else, in exactly this shape:
{
  "rationale": "why these steps answer the request",
  "steps": [
    {"step": 1, "provider": "<provider>", "capability": "<capability>", "arguments": {"<name>": <value>}, "purpose": "what this step is for"}
  ]
}

Rules:
- Use only provider/capability pairs listed in the catalog, spelled exactly as listed.
- Steps run one at a time in "step" order. Put a step before any step that relies on its effects.
- Arguments must match the capability's argument list. Include every required argument; leave out arguments you don't need.
- If the request needs no tools, return an empty "steps" list and explain why in "rationale".
`

// Planner turns a request into a Plan with one inference call.
type Planner struct {
	llm      LLMClient
	params   InferenceParams
	observer Observer
	logger   *slog.Logger
}

func NewPlanner(llm LLMClient, params InferenceParams, observer Observer, logger *slog.Logger) *Planner {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{llm: llm, params: params, observer: observer, logger: logger}
}

// CreatePlan asks the inference service for a plan over catalog. An
// empty catalog fails without an inference call. The response must be
// a complete plan referencing only catalog entries; anything else is a
// *PlanningError and is not retried.
func (p *Planner) CreatePlan(ctx context.Context, req Request, catalog Catalog) (*Plan, error) {
	if len(catalog) == 0 {
		return nil, &PlanningError{Reason: "no capabilities available"}
	}

	callCtx, cancel := withOptionalTimeout(ctx, p.params.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.llm.Complete(callCtx, &provider.CompletionRequest{
		Model: p.params.Model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: planningSystemPrompt},
			{Role: provider.RoleUser, Content: buildPlanningPrompt(req, catalog)},
		},
		MaxTokens:   p.params.MaxTokens,
		Temperature: provider.Float(p.params.Temperature),
		JSON:        true,
	})
	p.observer.ObserveInference("planning", time.Since(start), err)
	if err != nil {
		return nil, &PlanningError{Reason: "inference call failed", Err: err}
	}

	plan, err := parsePlan(resp.Content, catalog)
	if err != nil {
		p.logger.Debug("rejected plan", "response", resp.Content, "error", err)
		return nil, err
	}
	return plan, nil
}

func buildPlanningPrompt(req Request, catalog Catalog) string {
	var sb strings.Builder
	sb.WriteString("## Request\n")
	sb.WriteString(req.Text)
	sb.WriteString("\n\n")

	if len(req.Context) > 0 {
		sb.WriteString("## Context\n")
		keys := make([]string, 0, len(req.Context))
		for k := range req.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, req.Context[k])
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Available tools\n")
	sb.WriteString(catalog.Describe())
	return sb.String()
}

// rawPlan uses pointers so absent fields can be told from zero values.
type rawPlan struct {
	Rationale *string    `json:"rationale"`
	Steps     *[]rawStep `json:"steps"`
}

type rawStep struct {
	Step       *int           `json:"step"`
	Provider   *string        `json:"provider"`
	Capability *string        `json:"capability"`
	Arguments  map[string]any `json:"arguments"`
	Purpose    string         `json:"purpose"`
}

func parsePlan(content string, catalog Catalog) (*Plan, error) {
	body := stripCodeFence(content)
	if body == "" {
		return nil, &PlanningError{Reason: "empty response"}
	}

	var raw rawPlan
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return nil, &PlanningError{Reason: "response is not a JSON plan", Err: err}
	}
	if dec.More() {
		return nil, &PlanningError{Reason: "trailing content after plan"}
	}
	if raw.Rationale == nil {
		return nil, &PlanningError{Reason: `missing "rationale"`}
	}
	if raw.Steps == nil {
		return nil, &PlanningError{Reason: `missing "steps"`}
	}

	plan := &Plan{Rationale: *raw.Rationale, Steps: make([]Step, 0, len(*raw.Steps))}
	seen := make(map[int]bool, len(*raw.Steps))
	for i, rs := range *raw.Steps {
		switch {
		case rs.Step == nil:
			return nil, &PlanningError{Reason: fmt.Sprintf(`step %d: missing "step"`, i+1)}
		case rs.Provider == nil || *rs.Provider == "":
			return nil, &PlanningError{Reason: fmt.Sprintf(`step %d: missing "provider"`, *rs.Step)}
		case rs.Capability == nil || *rs.Capability == "":
			return nil, &PlanningError{Reason: fmt.Sprintf(`step %d: missing "capability"`, *rs.Step)}
		case seen[*rs.Step]:
			return nil, &PlanningError{Reason: fmt.Sprintf("duplicate step number %d", *rs.Step)}
		case !catalog.Has(*rs.Provider, *rs.Capability):
			return nil, &PlanningError{Reason: fmt.Sprintf("step %d: %s.%s is not in the catalog", *rs.Step, *rs.Provider, *rs.Capability)}
		}
		seen[*rs.Step] = true

		args := rs.Arguments
		if args == nil {
			args = map[string]any{}
		}
		plan.Steps = append(plan.Steps, Step{
			Sequence:   *rs.Step,
			Provider:   *rs.Provider,
			Capability: *rs.Capability,
			Arguments:  args,
			Purpose:    rs.Purpose,
		})
	}

	sortSteps(plan.Steps)
	return plan, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func sortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Sequence < steps[j].Sequence
	})
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
