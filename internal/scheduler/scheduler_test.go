package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opentalon/autopilot/internal/orchestrator"
)

type fakeRunner struct {
	mu      sync.Mutex
	reqs    []orchestrator.Request
	answer  string
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.Request) (*orchestrator.ExecutionRecord, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return &orchestrator.ExecutionRecord{ID: "r", Outcome: orchestrator.OutcomeAborted}, ctx.Err()
		}
	}
	if f.err != nil {
		return &orchestrator.ExecutionRecord{ID: "r", Outcome: orchestrator.OutcomeAborted}, f.err
	}
	return &orchestrator.ExecutionRecord{ID: "r", Outcome: orchestrator.OutcomeCompleted, FinalAnswer: f.answer}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notifyCall
}

type notifyCall struct {
	Channel string
	Content string
}

func (n *fakeNotifier) Notify(_ context.Context, channel, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, notifyCall{Channel: channel, Content: content})
	return nil
}

type countingObserver struct {
	mu    sync.Mutex
	fired map[string]int
}

func (c *countingObserver) ObserveScheduled(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fired[name]++
}

func TestRunNowNotifies(t *testing.T) {
	runner := &fakeRunner{answer: "3 new messages"}
	notifier := &fakeNotifier{}
	obs := &countingObserver{fired: map[string]int{}}
	s := New(runner, WithNotifier(notifier), WithObserver(obs))
	s.Start([]Job{{
		Name:          "digest",
		Spec:          "0 9 * * *",
		Request:       "Summarize #general",
		Context:       map[string]string{"channel": "general"},
		NotifyChannel: "digests",
	}})
	defer s.Stop()

	rec, err := s.RunNow("digest")
	if err != nil {
		t.Fatal(err)
	}
	if rec.FinalAnswer != "3 new messages" {
		t.Errorf("record = %+v", rec)
	}
	if runner.reqs[0].Text != "Summarize #general" || runner.reqs[0].Context["channel"] != "general" {
		t.Errorf("request = %+v", runner.reqs[0])
	}
	if len(notifier.messages) != 1 || notifier.messages[0].Channel != "digests" || notifier.messages[0].Content != "[scheduled: digest] 3 new messages" {
		t.Errorf("notifications = %+v", notifier.messages)
	}
	if obs.fired["digest"] != 1 {
		t.Errorf("observer = %v", obs.fired)
	}

	st, ok := s.GetJob("digest")
	if !ok || st.LastOutcome != orchestrator.OutcomeCompleted || st.LastRun.IsZero() || st.Next.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestRunNowFailureSkipsNotify(t *testing.T) {
	runner := &fakeRunner{err: errors.New("planning failed")}
	notifier := &fakeNotifier{}
	s := New(runner, WithNotifier(notifier))
	s.Start([]Job{{Name: "j", Spec: "@hourly", Request: "q", NotifyChannel: "c"}})
	defer s.Stop()

	if _, err := s.RunNow("j"); err == nil {
		t.Fatal("expected error")
	}
	if len(notifier.messages) != 0 {
		t.Error("failed run must not notify")
	}
	st, _ := s.GetJob("j")
	if st.LastOutcome != orchestrator.OutcomeAborted || st.LastError == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestCronFires(t *testing.T) {
	runner := &fakeRunner{answer: "ok"}
	s := New(runner)
	s.Start([]Job{{Name: "tick", Spec: "@every 1s", Request: "q"}})
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for runner.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never fired")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := New(runner)
	s.Start([]Job{{Name: "slow", Spec: "@daily", Request: "q"}})
	defer s.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow("slow")
		done <- err
	}()
	<-runner.started

	if _, err := s.RunNow("slow"); !errors.Is(err, ErrJobRunning) {
		t.Errorf("err = %v, want ErrJobRunning", err)
	}
	close(runner.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := New(runner)
	s.Start([]Job{{Name: "slow", Spec: "@daily", Request: "q"}})

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow("slow")
		done <- err
	}()
	<-runner.started
	s.Stop()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if _, err := s.RunNow("slow"); err == nil {
		t.Error("runs after Stop should fail")
	}
}

func TestDynamicJobs(t *testing.T) {
	s := New(&fakeRunner{})
	s.Start([]Job{{Name: "static", Spec: "@daily", Request: "q"}})
	defer s.Stop()

	if err := s.AddJob(Job{Name: "dyn", Spec: "*/5 * * * *", Request: "check"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(Job{Name: "dyn", Spec: "@daily", Request: "again"}); err == nil {
		t.Error("duplicate name should fail")
	}
	if err := s.AddJob(Job{Name: "bad", Spec: "every five minutes", Request: "x"}); err == nil {
		t.Error("bad spec should fail")
	}
	if err := s.AddJob(Job{Name: "empty", Spec: "@daily"}); err == nil {
		t.Error("missing request should fail")
	}

	jobs := s.ListJobs()
	if len(jobs) != 2 || jobs[0].Name != "dyn" || jobs[1].Name != "static" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Source != "dynamic" || jobs[1].Source != "config" {
		t.Errorf("sources = %q %q", jobs[0].Source, jobs[1].Source)
	}

	if err := s.RemoveJob("static"); !errors.Is(err, ErrConfigProtected) {
		t.Errorf("remove static = %v", err)
	}
	if err := s.RemoveJob("dyn"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetJob("dyn"); ok {
		t.Error("dyn should be gone")
	}
	if err := s.RemoveJob("dyn"); err == nil {
		t.Error("removing twice should fail")
	}
}

func TestPauseResume(t *testing.T) {
	s := New(&fakeRunner{})
	s.Start([]Job{{Name: "j", Spec: "@hourly", Request: "q"}})
	defer s.Stop()

	if err := s.ResumeJob("j"); err == nil {
		t.Error("resuming an active job should fail")
	}
	if err := s.PauseJob("j"); err != nil {
		t.Fatal(err)
	}
	st, _ := s.GetJob("j")
	if !st.Paused || !st.Next.IsZero() {
		t.Errorf("paused status = %+v", st)
	}
	if err := s.ResumeJob("j"); err != nil {
		t.Fatal(err)
	}
	st, _ = s.GetJob("j")
	if st.Paused || st.Next.IsZero() {
		t.Errorf("resumed status = %+v", st)
	}
	if err := s.PauseJob("missing"); err == nil {
		t.Error("pausing unknown job should fail")
	}
}

func TestStartSkipsInvalidJobs(t *testing.T) {
	s := New(&fakeRunner{})
	s.Start([]Job{
		{Name: "", Spec: "@daily", Request: "q"},
		{Name: "bad", Spec: "nope", Request: "q"},
		{Name: "good", Spec: "@daily", Request: "q"},
	})
	defer s.Stop()
	if jobs := s.ListJobs(); len(jobs) != 1 || jobs[0].Name != "good" {
		t.Errorf("jobs = %+v", jobs)
	}
}
