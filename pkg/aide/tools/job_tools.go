package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/aide/pkg/aide/jobs"
	"github.com/jholhewres/aide/pkg/aide/skills"
	"github.com/jholhewres/aide/pkg/aide/store"
)

// JobService is the jobs surface the job tools need.
type JobService interface {
	Create(ctx context.Context, p jobs.Params) (*store.Job, error)
	List(ctx context.Context) ([]store.Job, error)
	Update(ctx context.Context, id int64, p jobs.Params) (*store.Job, error)
	Delete(ctx context.Context, id int64) error
}

// jobArgs is the shared argument shape for create_job and update_job.
type jobArgs struct {
	ID          *int64         `json:"id"`
	Name        *string        `json:"name"`
	Schedule    *string        `json:"schedule"`
	RunAt       *string        `json:"run_at"`
	Prompt      *string        `json:"prompt"`
	SkillName   *string        `json:"skill_name"`
	SkillConfig map[string]any `json:"skill_config"`
	Enabled     *bool          `json:"enabled"`
	MaxRetries  *int           `json:"max_retries"`
}

func (a *jobArgs) toParams() (jobs.Params, error) {
	p := jobs.Params{
		Name:        a.Name,
		Schedule:    a.Schedule,
		Prompt:      a.Prompt,
		SkillName:   a.SkillName,
		SkillConfig: a.SkillConfig,
		Enabled:     a.Enabled,
		MaxRetries:  a.MaxRetries,
	}
	if a.RunAt != nil {
		at, err := time.Parse(time.RFC3339, *a.RunAt)
		if err != nil {
			return p, fmt.Errorf("run_at must be ISO-8601: %w", err)
		}
		p.RunAt = &at
	}
	return p, nil
}

func describeJob(j *store.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[id %d] %s", j.ID, j.Name)
	if j.Schedule != nil {
		fmt.Fprintf(&b, " (cron %q)", *j.Schedule)
	} else {
		fmt.Fprintf(&b, " (one-shot at %s)", j.NextRunAt.Format(time.RFC3339))
	}
	if j.Prompt != nil {
		fmt.Fprintf(&b, " prompt job")
	} else if j.SkillName != nil {
		fmt.Fprintf(&b, " skill job: %s", *j.SkillName)
	}
	if !j.Enabled {
		b.WriteString(" [disabled]")
	}
	fmt.Fprintf(&b, ", next run %s", j.NextRunAt.Format(time.RFC3339))
	return b.String()
}

// ListJobsTool enumerates scheduled jobs.
type ListJobsTool struct {
	jobs JobService
}

// NewListJobsTool creates the list_jobs tool.
func NewListJobsTool(jobs JobService) *ListJobsTool { return &ListJobsTool{jobs: jobs} }

func (t *ListJobsTool) Name() string { return "list_jobs" }

func (t *ListJobsTool) Description() string {
	return "List the user's scheduled jobs with their ids, schedules and status."
}

func (t *ListJobsTool) Parameters() json.RawMessage {
	return schema(`{"type": "object", "properties": {}}`)
}

func (t *ListJobsTool) Execute(ctx context.Context, _ json.RawMessage) (string, error) {
	all, err := t.jobs.List(ctx)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "No jobs scheduled.", nil
	}
	var b strings.Builder
	for i := range all {
		b.WriteString(describeJob(&all[i]))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// CreateJobTool schedules a new job.
type CreateJobTool struct {
	jobs JobService
}

// NewCreateJobTool creates the create_job tool.
func NewCreateJobTool(jobs JobService) *CreateJobTool { return &CreateJobTool{jobs: jobs} }

func (t *CreateJobTool) Name() string { return "create_job" }

func (t *CreateJobTool) Description() string {
	return "Schedule a job. Recurring jobs take a 5-field cron schedule; one-shot jobs take run_at. The payload is either a prompt (runs a conversation) or a skill_name plus skill_config."
}

func (t *CreateJobTool) Parameters() json.RawMessage {
	return schema(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Human-readable job name"},
			"schedule": {"type": "string", "description": "Cron expression, e.g. \"0 8 * * *\""},
			"run_at": {"type": "string", "description": "ISO-8601 instant for a one-shot job"},
			"prompt": {"type": "string", "description": "Prompt to run for prompt jobs"},
			"skill_name": {"type": "string", "description": "Skill to run for skill jobs (see list_skills)"},
			"skill_config": {"type": "object", "description": "Skill configuration object"},
			"max_retries": {"type": "integer", "description": "Retries before the run fails for good (default 3)"}
		},
		"required": ["name"]
	}`)
}

func (t *CreateJobTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in jobArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	p, err := in.toParams()
	if err != nil {
		return "", err
	}
	job, err := t.jobs.Create(ctx, p)
	if err != nil {
		return "", err
	}
	return "Created job " + describeJob(job), nil
}

// UpdateJobTool changes an existing job.
type UpdateJobTool struct {
	jobs JobService
}

// NewUpdateJobTool creates the update_job tool.
func NewUpdateJobTool(jobs JobService) *UpdateJobTool { return &UpdateJobTool{jobs: jobs} }

func (t *UpdateJobTool) Name() string { return "update_job" }

func (t *UpdateJobTool) Description() string {
	return "Update a scheduled job. Only the fields passed are changed; enabled=false pauses a job."
}

func (t *UpdateJobTool) Parameters() json.RawMessage {
	return schema(`{
		"type": "object",
		"properties": {
			"id": {"type": "integer", "description": "Job id"},
			"name": {"type": "string"},
			"schedule": {"type": "string", "description": "New cron expression"},
			"run_at": {"type": "string", "description": "New ISO-8601 one-shot instant"},
			"prompt": {"type": "string"},
			"skill_name": {"type": "string"},
			"skill_config": {"type": "object"},
			"enabled": {"type": "boolean"},
			"max_retries": {"type": "integer"}
		},
		"required": ["id"]
	}`)
}

func (t *UpdateJobTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in jobArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if in.ID == nil {
		return "", fmt.Errorf("id is required")
	}
	p, err := in.toParams()
	if err != nil {
		return "", err
	}
	job, err := t.jobs.Update(ctx, *in.ID, p)
	if err != nil {
		return "", err
	}
	return "Updated job " + describeJob(job), nil
}

// DeleteJobTool removes a job.
type DeleteJobTool struct {
	jobs JobService
}

// NewDeleteJobTool creates the delete_job tool.
func NewDeleteJobTool(jobs JobService) *DeleteJobTool { return &DeleteJobTool{jobs: jobs} }

func (t *DeleteJobTool) Name() string { return "delete_job" }

func (t *DeleteJobTool) Description() string {
	return "Delete a scheduled job by id."
}

func (t *DeleteJobTool) Parameters() json.RawMessage {
	return schema(`{
		"type": "object",
		"properties": {
			"id": {"type": "integer", "description": "Job id"}
		},
		"required": ["id"]
	}`)
}

func (t *DeleteJobTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if in.ID == nil {
		return "", fmt.Errorf("id is required")
	}
	if err := t.jobs.Delete(ctx, *in.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted job %d.", *in.ID), nil
}

// ListSkillsTool enumerates registered skills.
type ListSkillsTool struct {
	registry *skills.Registry
}

// NewListSkillsTool creates the list_skills tool.
func NewListSkillsTool(registry *skills.Registry) *ListSkillsTool {
	return &ListSkillsTool{registry: registry}
}

func (t *ListSkillsTool) Name() string { return "list_skills" }

func (t *ListSkillsTool) Description() string {
	return "List the skills available for skill jobs, with their config schemas."
}

func (t *ListSkillsTool) Parameters() json.RawMessage {
	return schema(`{"type": "object", "properties": {}}`)
}

func (t *ListSkillsTool) Execute(context.Context, json.RawMessage) (string, error) {
	all := t.registry.List()
	if len(all) == 0 {
		return "No skills are registered.", nil
	}
	var b strings.Builder
	for _, s := range all {
		fmt.Fprintf(&b, "%s — %s\nConfig schema: %s\n\n", s.Name(), s.Description(), string(s.ConfigSchema()))
	}
	return strings.TrimSpace(b.String()), nil
}
