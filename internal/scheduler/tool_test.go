package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	pkg "github.com/opentalon/autopilot/pkg/plugin"
)

func newTestTool(t *testing.T) (*Tool, *Scheduler) {
	t.Helper()
	s := New(&fakeRunner{})
	s.Start([]Job{{Name: "config-job", Spec: "@daily", Request: "q"}})
	t.Cleanup(s.Stop)
	return NewTool(s), s
}

func call(tool *Tool, capability string, args map[string]any) pkg.Response {
	return tool.Call(context.Background(), pkg.Request{Method: pkg.MethodCall, ID: "c1", Capability: capability, Args: args})
}

func TestToolCapabilities(t *testing.T) {
	tool, _ := newTestTool(t)
	caps := tool.Capabilities()
	if caps.Name != ToolName {
		t.Errorf("name = %q", caps.Name)
	}
	names := map[string]bool{}
	for _, c := range caps.Capabilities {
		names[c.Name] = true
	}
	for _, want := range []string{"create_job", "list_jobs", "delete_job", "pause_job", "resume_job"} {
		if !names[want] {
			t.Errorf("missing capability %s", want)
		}
	}
}

func TestToolCreateAndList(t *testing.T) {
	tool, s := newTestTool(t)

	resp := call(tool, "create_job", map[string]any{"name": "standup", "cron": "0 9 * * 1-5", "request": "Summarize #eng", "notify_channel": "eng"})
	if resp.Error != "" || resp.CallID != "c1" {
		t.Fatalf("create = %+v", resp)
	}
	st, ok := s.GetJob("standup")
	if !ok || st.NotifyChannel != "eng" || st.Source != "dynamic" {
		t.Errorf("job = %+v", st)
	}

	resp = call(tool, "list_jobs", nil)
	var jobs []Status
	if err := json.Unmarshal([]byte(resp.Content), &jobs); err != nil {
		t.Fatalf("list content %q: %v", resp.Content, err)
	}
	if len(jobs) != 2 {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestToolErrors(t *testing.T) {
	tool, _ := newTestTool(t)

	tests := []struct {
		capability string
		args       map[string]any
		want       string
	}{
		{"create_job", map[string]any{"name": "x"}, "required"},
		{"create_job", map[string]any{"name": "x", "cron": "bad", "request": "q"}, "invalid cron"},
		{"delete_job", map[string]any{}, "name is required"},
		{"delete_job", map[string]any{"name": "config-job"}, "config-defined"},
		{"pause_job", map[string]any{"name": "missing"}, "not found"},
		{"explode", nil, "unknown scheduler capability"},
	}
	for _, tt := range tests {
		resp := call(tool, tt.capability, tt.args)
		if !strings.Contains(resp.Error, tt.want) {
			t.Errorf("%s(%v) error = %q, want containing %q", tt.capability, tt.args, resp.Error, tt.want)
		}
	}
}

func TestToolPauseResume(t *testing.T) {
	tool, s := newTestTool(t)
	if resp := call(tool, "pause_job", map[string]any{"name": "config-job"}); resp.Error != "" {
		t.Fatal(resp.Error)
	}
	if st, _ := s.GetJob("config-job"); !st.Paused {
		t.Error("job should be paused")
	}
	if resp := call(tool, "resume_job", map[string]any{"name": "config-job"}); resp.Content != `Job "config-job" resumed.` {
		t.Errorf("resume = %+v", resp)
	}
}
