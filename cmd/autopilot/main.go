package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opentalon/autopilot/internal/capability"
	"github.com/opentalon/autopilot/internal/config"
	"github.com/opentalon/autopilot/internal/failover"
	"github.com/opentalon/autopilot/internal/metrics"
	"github.com/opentalon/autopilot/internal/orchestrator"
	"github.com/opentalon/autopilot/internal/plugin"
	"github.com/opentalon/autopilot/internal/provider"
	"github.com/opentalon/autopilot/internal/scheduler"
	"github.com/opentalon/autopilot/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	request := flag.String("request", "", "run a single request, print the answer and exit")
	reqContext := flag.String("context", "", "request context as comma-separated key=value pairs")
	asJSON := flag.Bool("json", false, "with -request, print the full execution record as JSON")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var req *orchestrator.Request
	if *request != "" {
		req = &orchestrator.Request{Text: *request, Context: parseContext(*reqContext)}
	}
	if err := run(ctx, *configPath, req, *asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run serves until ctx ends, or answers req and returns when it is set.
func run(ctx context.Context, configPath string, req *orchestrator.Request, asJSON bool) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	// stdout is reserved for answers in -request mode.
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if req != nil {
		return app.runOnce(ctx, *req, asJSON)
	}
	return app.serve(ctx)
}

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *capability.Registry
	orch     *orchestrator.Orchestrator
	sched    *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	m := metrics.New(prometheus.DefaultRegisterer)

	models := provider.NewRegistry()
	for id, p := range cfg.Inference.Providers {
		backend, err := provider.FromConfig(provider.ProviderConfig{ID: id, BaseURL: p.BaseURL, APIKey: p.APIKey, API: p.API})
		if err != nil {
			return nil, err
		}
		if err := models.Register(backend); err != nil {
			return nil, err
		}
	}

	var llm orchestrator.LLMClient = models
	if len(cfg.Inference.Fallbacks) > 0 {
		fallbacks := make([]provider.ModelRef, len(cfg.Inference.Fallbacks))
		for i, ref := range cfg.Inference.Fallbacks {
			fallbacks[i] = provider.ModelRef(ref)
		}
		llm = failover.NewController(models, failover.NewCooldownTracker(failover.DefaultCooldownConfig()), fallbacks, logger)
	}

	dialer := plugin.NewDialer(logger)
	dialer.HandshakeTimeout = cfg.Tools.ConnectTimeout
	registry := capability.NewRegistry(dialer,
		capability.WithConnectTimeout(cfg.Tools.ConnectTimeout),
		capability.WithLogger(logger),
		capability.WithConnectObserver(m),
	)
	for _, tp := range cfg.Tools.Providers {
		if _, err := registry.AddProvider(tp.Name, tp.Address); err != nil {
			return nil, err
		}
	}

	orch := orchestrator.New(registry, llm, cfg.Tools.CallTimeout, orchestrator.Config{
		Planning:       phaseParams(cfg.Inference.Planning, cfg.Inference.Timeout),
		Synthesis:      phaseParams(cfg.Inference.Synthesis, cfg.Inference.Timeout),
		MaxResultBytes: cfg.Orchestrator.MaxResultBytes,
		Rules:          cfg.Orchestrator.Rules,
		HistoryLimit:   *cfg.Orchestrator.HistoryLimit,
	}, orchestrator.WithObserver(m), orchestrator.WithLogger(logger))

	notifier := &capabilityNotifier{
		client:   capability.NewClient(registry, cfg.Tools.CallTimeout, logger),
		provider: cfg.Scheduler.NotifyProvider,
	}
	sched := scheduler.New(orch,
		scheduler.WithNotifier(notifier),
		scheduler.WithObserver(m),
		scheduler.WithLogger(logger),
	)
	if cfg.Scheduler.Builtin {
		dialer.RegisterLocal(scheduler.ToolName, scheduler.NewTool(sched))
		if _, err := registry.AddProvider(scheduler.ToolName, "local://"+scheduler.ToolName); err != nil {
			return nil, err
		}
	}

	if err := registry.ConnectAll(ctx, cfg.Tools.ConnectConcurrency); err != nil {
		// Unreachable providers stay Failed and are left out of planning.
		logger.Warn("some tool providers failed to connect", "error", err)
	}

	return &app{cfg: cfg, logger: logger, registry: registry, orch: orch, sched: sched}, nil
}

func phaseParams(p config.PhaseConfig, timeout time.Duration) orchestrator.InferenceParams {
	return orchestrator.InferenceParams{
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: *p.Temperature,
		Timeout:     timeout,
	}
}

func (a *app) runOnce(ctx context.Context, req orchestrator.Request, asJSON bool) error {
	rec, err := a.orch.Run(ctx, req)
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rec); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Println(rec.FinalAnswer)
	return nil
}

func (a *app) serve(ctx context.Context) error {
	jobs := make([]scheduler.Job, len(a.cfg.Schedules))
	for i, s := range a.cfg.Schedules {
		jobs[i] = scheduler.Job{
			Name:          s.Name,
			Spec:          s.Cron,
			Request:       s.Request,
			Context:       s.Context,
			NotifyChannel: s.NotifyChannel,
		}
	}
	a.sched.Start(jobs)
	defer a.sched.Stop()

	a.logger.Info("autopilot running",
		"version", version.Version,
		"providers", len(a.registry.ListProviders()),
		"schedules", len(jobs),
		"listen", a.cfg.Metrics.Listen,
	)

	if a.cfg.Metrics.Listen == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           newMux(a.orch, a.sched),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (a *app) close() {
	a.registry.Close()
}

// capabilityNotifier posts scheduled answers through a provider's
// send_message capability.
type capabilityNotifier struct {
	client   *capability.Client
	provider string
}

func (n *capabilityNotifier) Notify(ctx context.Context, channel, content string) error {
	_, err := n.client.Invoke(ctx, n.provider, "send_message", map[string]any{"channel": channel, "text": content})
	return err
}

func parseContext(s string) map[string]string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
