package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opentalon/autopilot/internal/capability"
	"github.com/opentalon/autopilot/internal/provider"
)

// fakeLLM replays scripted responses in call order.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	errs      map[int]error
	reqs      []*provider.CompletionRequest
	hook      func(call int)
}

func (f *fakeLLM) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	f.mu.Lock()
	call := len(f.reqs)
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(call)
	}
	if err := f.errs[call]; err != nil {
		return nil, err
	}
	if call >= len(f.responses) {
		return nil, errors.New("unexpected inference call")
	}
	return &provider.CompletionResponse{Content: f.responses[call]}, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeLLM) request(i int) *provider.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[i]
}

// stubTransport answers every capability with "<name> ok" unless a
// failure is configured for it.
type stubTransport struct {
	descs []capability.Descriptor
	fail  map[string]error
	delay time.Duration
	// fatal makes a failed call leave the transport unusable.
	fatal bool

	mu     sync.Mutex
	calls  []string
	broken error
}

func (s *stubTransport) Discover(context.Context) ([]capability.Descriptor, error) {
	return s.descs, nil
}

func (s *stubTransport) Call(ctx context.Context, name string, _ map[string]any) (capability.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return capability.Result{}, ctx.Err()
		}
	}
	if err := s.fail[name]; err != nil {
		if s.fatal {
			s.mu.Lock()
			s.broken = err
			s.mu.Unlock()
		}
		return capability.Result{}, err
	}
	return capability.Result{Content: name + " ok"}, nil
}

func (s *stubTransport) Broken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

func (s *stubTransport) Close() error { return nil }

func (s *stubTransport) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func searchTransport() *stubTransport {
	return &stubTransport{descs: []capability.Descriptor{{
		Name:        "search",
		Description: "Search the web",
		Schema:      capability.Schema{"query": {Type: capability.TypeString, Required: true}},
	}}}
}

func workspaceTransport() *stubTransport {
	return &stubTransport{descs: []capability.Descriptor{
		{
			Name:        "fetch_messages",
			Description: "Fetch recent messages",
			Schema: capability.Schema{
				"channel": {Type: capability.TypeString, Required: true},
				"limit":   {Type: capability.TypeInteger},
			},
		},
		{
			Name:        "send_message",
			Description: "Post a message",
			Schema: capability.Schema{
				"channel": {Type: capability.TypeString, Required: true},
				"text":    {Type: capability.TypeString, Required: true},
			},
		},
	}}
}

// newTestRegistry registers each transport under its provider name
// (address "stub://<name>") and connects the names in connect.
func newTestRegistry(t *testing.T, transports map[string]*stubTransport, connect ...string) *capability.Registry {
	t.Helper()
	dialer := capability.DialerFunc(func(_ context.Context, address string) (capability.Transport, error) {
		for name, tr := range transports {
			if address == "stub://"+name {
				return tr, nil
			}
		}
		return nil, fmt.Errorf("no stub for %s", address)
	})
	reg := capability.NewRegistry(dialer)
	for name := range transports {
		if _, err := reg.AddProvider(name, "stub://"+name); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range connect {
		if _, err := reg.Connect(context.Background(), name); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

// countingObserver tallies events for assertions.
type countingObserver struct {
	mu        sync.Mutex
	runs      map[string]int
	steps     map[string]int
	inference map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{runs: map[string]int{}, steps: map[string]int{}, inference: map[string]int{}}
}

func (c *countingObserver) ObserveRun(outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[outcome]++
}

func (c *countingObserver) ObserveStep(provider, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[provider+"/"+status]++
}

func (c *countingObserver) ObserveInference(phase string, _ time.Duration, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inference[phase]++
}
