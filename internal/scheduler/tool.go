package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	pkg "github.com/opentalon/autopilot/pkg/plugin"
)

const ToolName = "scheduler"

// Tool exposes the scheduler as a built-in tool provider so requests
// can manage scheduled jobs.
type Tool struct {
	sched *Scheduler
}

func NewTool(sched *Scheduler) *Tool {
	return &Tool{sched: sched}
}

var _ pkg.Handler = (*Tool)(nil)

func (t *Tool) Capabilities() pkg.CapabilitiesMsg {
	return pkg.CapabilitiesMsg{
		Name:        ToolName,
		Description: "Manage scheduled requests. Each job runs a natural-language request on a cron schedule and can post the answer to a channel.",
		Capabilities: []pkg.CapabilityMsg{
			{
				Name:        "create_job",
				Description: "Create a scheduled request.",
				Parameters: []pkg.ParameterMsg{
					{Name: "name", Description: "Unique job name (slug)", Type: "string", Required: true},
					{Name: "cron", Description: "Standard 5-field cron spec or descriptor such as @daily", Type: "string", Required: true},
					{Name: "request", Description: "Request to run on each tick", Type: "string", Required: true},
					{Name: "notify_channel", Description: "Channel to post the answer to", Type: "string"},
				},
			},
			{
				Name:        "list_jobs",
				Description: "List scheduled jobs with their next and last run",
			},
			{
				Name:        "delete_job",
				Description: "Delete a job created at runtime. Config-defined jobs cannot be deleted.",
				Parameters: []pkg.ParameterMsg{
					{Name: "name", Description: "Job name", Type: "string", Required: true},
				},
			},
			{
				Name:        "pause_job",
				Description: "Pause a scheduled job",
				Parameters: []pkg.ParameterMsg{
					{Name: "name", Description: "Job name", Type: "string", Required: true},
				},
			},
			{
				Name:        "resume_job",
				Description: "Resume a paused job",
				Parameters: []pkg.ParameterMsg{
					{Name: "name", Description: "Job name", Type: "string", Required: true},
				},
			},
		},
	}
}

func (t *Tool) Call(_ context.Context, req pkg.Request) pkg.Response {
	resp := t.dispatch(req)
	resp.CallID = req.ID
	return resp
}

func (t *Tool) dispatch(req pkg.Request) pkg.Response {
	switch req.Capability {
	case "create_job":
		return t.createJob(req)
	case "list_jobs":
		return t.listJobs()
	case "delete_job":
		return t.byName(req, t.sched.RemoveJob, "Job %q deleted.")
	case "pause_job":
		return t.byName(req, t.sched.PauseJob, "Job %q paused.")
	case "resume_job":
		return t.byName(req, t.sched.ResumeJob, "Job %q resumed.")
	default:
		return pkg.Response{Error: fmt.Sprintf("unknown scheduler capability: %s", req.Capability)}
	}
}

func (t *Tool) createJob(req pkg.Request) pkg.Response {
	job := Job{
		Name:          stringArg(req.Args, "name"),
		Spec:          stringArg(req.Args, "cron"),
		Request:       stringArg(req.Args, "request"),
		NotifyChannel: stringArg(req.Args, "notify_channel"),
	}
	if job.Name == "" || job.Spec == "" || job.Request == "" {
		return pkg.Response{Error: "name, cron, and request are required"}
	}
	if err := t.sched.AddJob(job); err != nil {
		return pkg.Response{Error: err.Error()}
	}
	return pkg.Response{Content: fmt.Sprintf("Job %q created: runs %q on %s", job.Name, job.Request, job.Spec)}
}

func (t *Tool) listJobs() pkg.Response {
	jobs := t.sched.ListJobs()
	if len(jobs) == 0 {
		return pkg.Response{Content: "No scheduled jobs."}
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		return pkg.Response{Error: fmt.Sprintf("marshaling jobs: %v", err)}
	}
	return pkg.Response{Content: string(data)}
}

func (t *Tool) byName(req pkg.Request, op func(string) error, done string) pkg.Response {
	name := stringArg(req.Args, "name")
	if name == "" {
		return pkg.Response{Error: "name is required"}
	}
	if err := op(name); err != nil {
		return pkg.Response{Error: err.Error()}
	}
	return pkg.Response{Content: fmt.Sprintf(done, name)}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
