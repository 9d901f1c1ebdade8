package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opentalon/autopilot/internal/capability"
)

// Config holds the per-orchestrator tuning knobs.
type Config struct {
	Planning       InferenceParams
	Synthesis      InferenceParams
	MaxResultBytes int
	Rules          []string
	HistoryLimit   int
}

// Orchestrator runs the plan, execute, synthesize, record pipeline for
// one request at a time per call. Runs may proceed concurrently; they
// share only the registry and the recorder.
type Orchestrator struct {
	registry    *capability.Registry
	planner     *Planner
	executor    *Executor
	synthesizer *Synthesizer
	recorder    *Recorder
	observer    Observer
	logger      *slog.Logger
}

type Option func(*options)

type options struct {
	observer Observer
	logger   *slog.Logger
	invoker  Invoker
	recorder *Recorder
}

// WithObserver reports runs, steps and inference calls to o.
func WithObserver(o Observer) Option {
	return func(opts *options) { opts.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

// WithInvoker replaces the capability client used for steps.
func WithInvoker(inv Invoker) Option {
	return func(opts *options) { opts.invoker = inv }
}

// WithRecorder shares an existing recorder instead of creating one.
func WithRecorder(r *Recorder) Option {
	return func(opts *options) { opts.recorder = r }
}

// New wires an orchestrator around registry and llm. Steps are invoked
// through a capability.Client over the same registry unless WithInvoker
// is given.
func New(registry *capability.Registry, llm LLMClient, callTimeout time.Duration, cfg Config, opts ...Option) *Orchestrator {
	o := options{observer: nopObserver{}, logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	logger := o.logger.With("component", "orchestrator")

	invoker := o.invoker
	if invoker == nil {
		invoker = capability.NewClient(registry, callTimeout, o.logger)
	}
	recorder := o.recorder
	if recorder == nil {
		recorder = NewRecorder(cfg.HistoryLimit)
	}

	return &Orchestrator{
		registry:    registry,
		planner:     NewPlanner(llm, cfg.Planning, o.observer, logger),
		executor:    NewExecutor(invoker, o.observer, logger),
		synthesizer: NewSynthesizer(llm, cfg.Synthesis, NewGuard(cfg.MaxResultBytes), NewRulesConfig(cfg.Rules), o.observer, logger),
		recorder:    recorder,
		observer:    o.observer,
		logger:      logger,
	}
}

// Run handles one request end to end and always records the run. On a
// planning or synthesis failure the returned record has outcome Aborted
// and the error is returned alongside it.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*ExecutionRecord, error) {
	start := time.Now()
	rec := ExecutionRecord{
		ID:          uuid.NewString(),
		Timestamp:   start.UTC(),
		Request:     req.Text,
		Context:     req.Context,
		StepResults: []StepResult{},
	}
	logger := o.logger.With("run", rec.ID)
	logger.Info("run started", "request", truncate(req.Text, 120))

	catalog := Catalog(o.registry.ListCapabilities(""))
	plan, err := o.planner.CreatePlan(ctx, req, catalog)
	if err != nil {
		return o.finish(logger, rec, start, err)
	}
	rec.Plan = plan
	logger.Debug("plan accepted", "steps", len(plan.Steps), "rationale", plan.Rationale)

	rec.StepResults = o.executor.Run(ctx, plan)

	answer, err := o.synthesizer.Synthesize(ctx, req, plan, rec.StepResults)
	if err != nil {
		return o.finish(logger, rec, start, err)
	}
	rec.FinalAnswer = answer
	return o.finish(logger, rec, start, nil)
}

func (o *Orchestrator) finish(logger *slog.Logger, rec ExecutionRecord, start time.Time, err error) (*ExecutionRecord, error) {
	switch {
	case err != nil:
		rec.Outcome = OutcomeAborted
		rec.Error = err.Error()
	case rec.Failed() > 0:
		rec.Outcome = OutcomeCompletedWithErrors
	default:
		rec.Outcome = OutcomeCompleted
	}
	rec.Duration = time.Since(start)

	o.recorder.Record(rec)
	o.observer.ObserveRun(string(rec.Outcome), rec.Duration)

	attrs := []any{
		"outcome", rec.Outcome,
		"steps", len(rec.StepResults),
		"failed", rec.Failed(),
		"duration", rec.Duration.Round(time.Millisecond),
	}
	if err != nil {
		logger.Warn("run aborted", append(attrs, "error", err)...)
	} else {
		logger.Info("run finished", attrs...)
	}
	return &rec, err
}

// History returns recorded runs, newest first.
func (o *Orchestrator) History(limit int) []ExecutionRecord {
	return o.recorder.History(limit)
}

// Registry exposes the capability registry the orchestrator plans against.
func (o *Orchestrator) Registry() *capability.Registry {
	return o.registry
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return cutUTF8(s, n) + "..."
}
