package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log          LogConfig          `yaml:"log"`
	Inference    InferenceConfig    `yaml:"inference"`
	Tools        ToolsConfig        `yaml:"tools"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Schedules    []ScheduleConfig   `yaml:"schedules"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

type InferenceConfig struct {
	// Model is the default "provider/model" reference for both phases.
	Model     string                       `yaml:"model"`
	Timeout   time.Duration                `yaml:"timeout"`
	Providers map[string]InferenceProvider `yaml:"providers"`
	Planning  PhaseConfig                  `yaml:"planning"`
	Synthesis PhaseConfig                  `yaml:"synthesis"`
	// Fallbacks are tried in order when a phase's model answers with a
	// retryable status.
	Fallbacks []string                     `yaml:"fallbacks"`
}

type InferenceProvider struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	API     string `yaml:"api"`
}

// PhaseConfig tunes one inference phase. Model overrides
// InferenceConfig.Model when set.
type PhaseConfig struct {
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

type ToolsConfig struct {
	ConnectTimeout     time.Duration  `yaml:"connect_timeout"`
	CallTimeout        time.Duration  `yaml:"call_timeout"`
	ConnectConcurrency int            `yaml:"connect_concurrency"`
	Providers          []ToolProvider `yaml:"providers"`
}

// ToolProvider is one tool provider to register at startup. Address
// schemes: unix://, tcp://, exec://, http(s)://, ws(s)://.
type ToolProvider struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

type OrchestratorConfig struct {
	// HistoryLimit caps the execution history; 0 keeps every run.
	HistoryLimit   *int     `yaml:"history_limit"`
	MaxResultBytes int      `yaml:"max_result_bytes"`
	Rules          []string `yaml:"rules"`
}

type MetricsConfig struct {
	// Listen is the address for /metrics and /debug; empty disables it.
	Listen string `yaml:"listen"`
}

type ScheduleConfig struct {
	Name    string            `yaml:"name"`
	Cron    string            `yaml:"cron"`
	Request string            `yaml:"request"`
	Context map[string]string `yaml:"context"`
	// NotifyChannel receives the answer through the notify provider's
	// send_message capability.
	NotifyChannel string `yaml:"notify_channel"`
}

// SchedulerConfig selects where scheduled answers are posted.
type SchedulerConfig struct {
	NotifyProvider string `yaml:"notify_provider"`
	// Builtin registers the scheduler itself as a tool provider so
	// requests can manage schedules.
	Builtin bool `yaml:"builtin"`
}

// WorkspaceConfig configures the messaging workspace tool provider.
type WorkspaceConfig struct {
	Backend     string   `yaml:"backend"` // matrix, memory
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Channels    []string `yaml:"channels"`
}

const (
	DefaultModel              = "openai/gpt-4o-mini"
	DefaultInferenceTimeout   = 60 * time.Second
	DefaultPlanningMaxTokens  = 800
	DefaultPlanningTemp       = 0.3
	DefaultSynthesisMaxTokens = 1500
	DefaultSynthesisTemp      = 0.7
	DefaultConnectTimeout     = 10 * time.Second
	DefaultCallTimeout        = 30 * time.Second
	DefaultConnectConcurrency = 4
	DefaultHistoryLimit       = 100
)

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, p := range cfg.Inference.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.Inference.Providers[name] = p
	}
	for i := range cfg.Tools.Providers {
		cfg.Tools.Providers[i].Address = expandEnv(cfg.Tools.Providers[i].Address)
	}
	cfg.Metrics.Listen = expandEnv(cfg.Metrics.Listen)
	cfg.Workspace.Homeserver = expandEnv(cfg.Workspace.Homeserver)
	cfg.Workspace.UserID = expandEnv(cfg.Workspace.UserID)
	cfg.Workspace.AccessToken = expandEnv(cfg.Workspace.AccessToken)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes data, expands ${VAR} references, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	inf := &c.Inference
	if inf.Model == "" {
		inf.Model = DefaultModel
	}
	if inf.Timeout == 0 {
		inf.Timeout = DefaultInferenceTimeout
	}
	if len(inf.Providers) == 0 && strings.HasPrefix(inf.Model, "openai/") {
		inf.Providers = map[string]InferenceProvider{
			"openai": {APIKey: os.Getenv("OPENAI_API_KEY"), API: "openai-completions"},
		}
	}
	inf.Planning.applyDefaults(inf.Model, DefaultPlanningMaxTokens, DefaultPlanningTemp)
	inf.Synthesis.applyDefaults(inf.Model, DefaultSynthesisMaxTokens, DefaultSynthesisTemp)

	if c.Tools.ConnectTimeout == 0 {
		c.Tools.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Tools.CallTimeout == 0 {
		c.Tools.CallTimeout = DefaultCallTimeout
	}
	if c.Tools.ConnectConcurrency <= 0 {
		c.Tools.ConnectConcurrency = DefaultConnectConcurrency
	}
	if c.Orchestrator.HistoryLimit == nil {
		limit := DefaultHistoryLimit
		c.Orchestrator.HistoryLimit = &limit
	}
	if c.Scheduler.NotifyProvider == "" {
		c.Scheduler.NotifyProvider = "workspace"
	}
	if c.Workspace.Backend == "" {
		c.Workspace.Backend = "matrix"
	}
}

func (p *PhaseConfig) applyDefaults(model string, maxTokens int, temp float64) {
	if p.Model == "" {
		p.Model = model
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = maxTokens
	}
	if p.Temperature == nil {
		p.Temperature = &temp
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	for phase, p := range map[string]PhaseConfig{"planning": c.Inference.Planning, "synthesis": c.Inference.Synthesis} {
		provider, model, ok := strings.Cut(p.Model, "/")
		if !ok || provider == "" || model == "" {
			errs = append(errs, fmt.Errorf("inference.%s.model: %q is not a provider/model reference", phase, p.Model))
			continue
		}
		if _, ok := c.Inference.Providers[provider]; !ok {
			errs = append(errs, fmt.Errorf("inference.%s.model: provider %q is not configured", phase, provider))
		}
		if p.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("inference.%s.max_tokens must not be negative", phase))
		}
	}

	for i, ref := range c.Inference.Fallbacks {
		provider, model, ok := strings.Cut(ref, "/")
		if !ok || provider == "" || model == "" {
			errs = append(errs, fmt.Errorf("inference.fallbacks[%d]: %q is not a provider/model reference", i, ref))
			continue
		}
		if _, ok := c.Inference.Providers[provider]; !ok {
			errs = append(errs, fmt.Errorf("inference.fallbacks[%d]: provider %q is not configured", i, provider))
		}
	}

	seen := make(map[string]bool, len(c.Tools.Providers))
	for i, tp := range c.Tools.Providers {
		switch {
		case tp.Name == "":
			errs = append(errs, fmt.Errorf("tools.providers[%d]: name is required", i))
		case seen[tp.Name]:
			errs = append(errs, fmt.Errorf("tools.providers[%d]: duplicate name %q", i, tp.Name))
		}
		seen[tp.Name] = true
		if tp.Address == "" {
			errs = append(errs, fmt.Errorf("tools.providers[%d]: address is required", i))
		}
	}

	if c.Orchestrator.HistoryLimit != nil && *c.Orchestrator.HistoryLimit < 0 {
		errs = append(errs, errors.New("orchestrator.history_limit must not be negative"))
	}

	names := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: name is required", i))
		} else if names[s.Name] {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate name %q", i, s.Name))
		}
		names[s.Name] = true
		if strings.TrimSpace(s.Request) == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: request is required", i))
		}
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d]: invalid cron %q: %w", i, s.Cron, err))
		}
	}

	switch c.Workspace.Backend {
	case "matrix", "memory":
	default:
		errs = append(errs, fmt.Errorf("workspace.backend: unknown backend %q", c.Workspace.Backend))
	}

	return errors.Join(errs...)
}
