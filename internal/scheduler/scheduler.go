package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opentalon/autopilot/internal/orchestrator"
)

// Runner executes one orchestration request.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.ExecutionRecord, error)
}

// Notifier sends a message to a channel.
type Notifier interface {
	Notify(ctx context.Context, channel, content string) error
}

// Observer is told about every fired job.
type Observer interface {
	ObserveScheduled(name string)
}

// Job is a request run on a cron schedule.
type Job struct {
	Name          string            `yaml:"name" json:"name"`
	Spec          string            `yaml:"cron" json:"cron"`
	Request       string            `yaml:"request" json:"request"`
	Context       map[string]string `yaml:"context,omitempty" json:"context,omitempty"`
	NotifyChannel string            `yaml:"notify_channel,omitempty" json:"notify_channel,omitempty"`
	Paused        bool              `yaml:"paused,omitempty" json:"paused,omitempty"`
	Source        string            `yaml:"source,omitempty" json:"source,omitempty"` // "config" or "dynamic"
}

// Status is a Job plus its runtime state.
type Status struct {
	Job
	Next        time.Time            `json:"next,omitempty"`
	LastRun     time.Time            `json:"last_run,omitempty"`
	LastOutcome orchestrator.Outcome `json:"last_outcome,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
}

var (
	ErrConfigProtected = errors.New("config-defined jobs cannot be modified or removed")
	ErrJobRunning      = errors.New("job is already running")
)

const DefaultRunTimeout = 5 * time.Minute

type runningJob struct {
	job      Job
	schedule cron.Schedule
	entry    cron.EntryID
	running  bool

	lastRun     time.Time
	lastOutcome orchestrator.Outcome
	lastErr     string
}

// Scheduler fires orchestration requests on cron schedules. A job that
// is still running when its next tick arrives skips that tick.
type Scheduler struct {
	mu   sync.Mutex
	cron *cron.Cron
	jobs map[string]*runningJob

	runner     Runner
	notifier   Notifier
	observer   Observer
	logger     *slog.Logger
	runTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithRunTimeout bounds each fired request.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.runTimeout = d }
}

func New(runner Runner, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       cron.New(),
		jobs:       make(map[string]*runningJob),
		runner:     runner,
		logger:     slog.Default(),
		runTimeout: DefaultRunTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Start loads the config-defined jobs and starts the cron loop. Invalid
// jobs are logged and skipped.
func (s *Scheduler) Start(static []Job) {
	for _, j := range static {
		j.Source = "config"
		if err := s.add(j); err != nil {
			s.logger.Warn("skipping job", "job", j.Name, "error", err)
		}
	}
	s.cron.Start()
}

// Stop cancels running jobs, halts the cron loop and waits for them to
// drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// AddJob registers a dynamic job.
func (s *Scheduler) AddJob(job Job) error {
	job.Source = "dynamic"
	return s.add(job)
}

func (s *Scheduler) add(job Job) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if job.Request == "" {
		return fmt.Errorf("job %q has no request", job.Name)
	}
	sched, err := cron.ParseStandard(job.Spec)
	if err != nil {
		return fmt.Errorf("invalid cron spec for job %q: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already exists", job.Name)
	}
	rj := &runningJob{job: job, schedule: sched}
	s.jobs[job.Name] = rj
	if !job.Paused {
		s.scheduleLocked(rj)
	}
	return nil
}

func (s *Scheduler) scheduleLocked(rj *runningJob) {
	name := rj.job.Name
	rj.entry = s.cron.Schedule(rj.schedule, cron.FuncJob(func() {
		if _, err := s.execute(name); err != nil && !errors.Is(err, ErrJobRunning) {
			s.logger.Warn("scheduled run failed", "job", name, "error", err)
		}
	}))
}

// RemoveJob stops and removes a dynamic job.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	if rj.job.Source == "config" {
		return ErrConfigProtected
	}
	s.cron.Remove(rj.entry)
	delete(s.jobs, name)
	return nil
}

func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	if rj.job.Paused {
		return nil
	}
	s.cron.Remove(rj.entry)
	rj.entry = 0
	rj.job.Paused = true
	return nil
}

func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	if !rj.job.Paused {
		return fmt.Errorf("job %q is not paused", name)
	}
	rj.job.Paused = false
	s.scheduleLocked(rj)
	return nil
}

// ListJobs returns every job sorted by name.
func (s *Scheduler) ListJobs() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.jobs))
	for _, rj := range s.jobs {
		out = append(out, s.statusLocked(rj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) GetJob(name string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rj, ok := s.jobs[name]
	if !ok {
		return Status{}, false
	}
	return s.statusLocked(rj), true
}

func (s *Scheduler) statusLocked(rj *runningJob) Status {
	st := Status{
		Job:         rj.job,
		LastRun:     rj.lastRun,
		LastOutcome: rj.lastOutcome,
		LastError:   rj.lastErr,
	}
	if !rj.job.Paused {
		st.Next = rj.schedule.Next(time.Now())
	}
	return st
}

// RunNow fires a job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) (*orchestrator.ExecutionRecord, error) {
	return s.execute(name)
}

func (s *Scheduler) execute(name string) (*orchestrator.ExecutionRecord, error) {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("job %q not found", name)
	}
	if rj.running {
		s.mu.Unlock()
		s.logger.Info("skipping tick, previous run still in progress", "job", name)
		return nil, ErrJobRunning
	}
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil, s.ctx.Err()
	}
	rj.running = true
	job := rj.job
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if s.observer != nil {
		s.observer.ObserveScheduled(name)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()

	s.logger.Info("running scheduled request", "job", name)
	rec, err := s.runner.Run(ctx, orchestrator.Request{Text: job.Request, Context: job.Context})

	s.mu.Lock()
	rj.running = false
	rj.lastRun = time.Now()
	rj.lastErr = ""
	if rec != nil {
		rj.lastOutcome = rec.Outcome
	}
	if err != nil {
		rj.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		return rec, err
	}
	s.logger.Info("scheduled request finished", "job", name, "run", rec.ID, "outcome", rec.Outcome)

	if job.NotifyChannel != "" && s.notifier != nil && rec.FinalAnswer != "" {
		msg := fmt.Sprintf("[scheduled: %s] %s", job.Name, rec.FinalAnswer)
		if err := s.notifier.Notify(ctx, job.NotifyChannel, msg); err != nil {
			s.logger.Warn("notify failed", "job", name, "channel", job.NotifyChannel, "error", err)
		}
	}
	return rec, nil
}
