// Package jobs provides validated CRUD for scheduled jobs, shared by
// the job tools and the REST surface.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/aide/pkg/aide/errs"
	"github.com/jholhewres/aide/pkg/aide/store"
)

// DefaultMaxRetries applies when a job is created without one.
const DefaultMaxRetries = 3

// Storage is the store surface the service needs.
type Storage interface {
	CreateJob(ctx context.Context, j *store.Job) (*store.Job, error)
	GetJob(ctx context.Context, id int64) (*store.Job, error)
	ListJobs(ctx context.Context) ([]store.Job, error)
	UpdateJob(ctx context.Context, j *store.Job) (*store.Job, error)
	DeleteJob(ctx context.Context, id int64) error
	ListRuns(ctx context.Context, jobID int64) ([]store.JobRun, error)
}

// Params describes a job to create or the fields to change on update.
// Nil pointers on update mean "leave unchanged".
type Params struct {
	Name        *string
	Schedule    *string // cron expression; recurring jobs
	RunAt       *time.Time
	Prompt      *string
	SkillName   *string
	SkillConfig map[string]any
	Enabled     *bool
	MaxRetries  *int
}

// Service validates and persists jobs.
type Service struct {
	storage Storage
	logger  *slog.Logger
}

// New creates the jobs service.
func New(storage Storage, logger *slog.Logger) *Service {
	return &Service{storage: storage, logger: logger.With("component", "jobs")}
}

// NextAfter computes the cron expression's next fire strictly after t.
func NextAfter(schedule string, t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, errs.Validation("invalid cron expression %q: %v", schedule, err)
	}
	return sched.Next(t), nil
}

// validatePayload enforces the job-kind invariant: exactly one of
// prompt or (skill name + config) is the payload.
func validatePayload(prompt, skillName *string, skillConfig map[string]any) error {
	hasPrompt := prompt != nil && *prompt != ""
	hasSkill := skillName != nil && *skillName != ""
	switch {
	case hasPrompt && hasSkill:
		return errs.Validation("a job has either a prompt or a skill, not both")
	case !hasPrompt && !hasSkill:
		return errs.Validation("a job needs a prompt or a skill name")
	case hasSkill && skillConfig == nil:
		return errs.Validation("skill jobs need a skill_config")
	}
	return nil
}

// Create validates and stores a new job. Recurring jobs carry a cron
// schedule; one-shot jobs carry run_at instead.
func (s *Service) Create(ctx context.Context, p Params) (*store.Job, error) {
	if p.Name == nil || *p.Name == "" {
		return nil, errs.Validation("job name is required")
	}
	if err := validatePayload(p.Prompt, p.SkillName, p.SkillConfig); err != nil {
		return nil, err
	}

	var nextRun time.Time
	switch {
	case p.Schedule != nil && *p.Schedule != "":
		if p.RunAt != nil {
			return nil, errs.Validation("a job has either a schedule or a run_at, not both")
		}
		next, err := NextAfter(*p.Schedule, time.Now())
		if err != nil {
			return nil, err
		}
		nextRun = next
	case p.RunAt != nil:
		nextRun = *p.RunAt
	default:
		return nil, errs.Validation("a job needs a schedule or a run_at")
	}

	maxRetries := DefaultMaxRetries
	if p.MaxRetries != nil {
		if *p.MaxRetries < 0 {
			return nil, errs.Validation("max_retries must be >= 0")
		}
		maxRetries = *p.MaxRetries
	}
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	job := &store.Job{
		Name:        *p.Name,
		Prompt:      p.Prompt,
		SkillName:   p.SkillName,
		SkillConfig: p.SkillConfig,
		Enabled:     enabled,
		MaxRetries:  maxRetries,
		NextRunAt:   nextRun,
	}
	if p.Schedule != nil && *p.Schedule != "" {
		job.Schedule = p.Schedule
	}

	created, err := s.storage.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job_id", created.ID, "name", created.Name, "next_run_at", created.NextRunAt)
	return created, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id int64) (*store.Job, error) {
	return s.storage.GetJob(ctx, id)
}

// List returns live jobs.
func (s *Service) List(ctx context.Context) ([]store.Job, error) {
	return s.storage.ListJobs(ctx)
}

// Runs returns a job's run history, most recent first.
func (s *Service) Runs(ctx context.Context, jobID int64) ([]store.JobRun, error) {
	if _, err := s.storage.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.storage.ListRuns(ctx, jobID)
}

// Update applies the set fields of p to an existing job, re-validating
// the payload and schedule.
func (s *Service) Update(ctx context.Context, id int64, p Params) (*store.Job, error) {
	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		if *p.Name == "" {
			return nil, errs.Validation("job name must not be empty")
		}
		job.Name = *p.Name
	}
	if p.Prompt != nil {
		job.Prompt = p.Prompt
		job.SkillName = nil
		job.SkillConfig = nil
	}
	if p.SkillName != nil {
		job.SkillName = p.SkillName
		job.Prompt = nil
	}
	if p.SkillConfig != nil {
		job.SkillConfig = p.SkillConfig
	}
	if err := validatePayload(job.Prompt, job.SkillName, job.SkillConfig); err != nil {
		return nil, err
	}

	if p.Schedule != nil {
		if *p.Schedule == "" {
			job.Schedule = nil
		} else {
			next, err := NextAfter(*p.Schedule, time.Now())
			if err != nil {
				return nil, err
			}
			job.Schedule = p.Schedule
			job.NextRunAt = next
		}
	}
	if p.RunAt != nil {
		if job.Schedule != nil {
			return nil, errs.Validation("a job has either a schedule or a run_at, not both")
		}
		job.NextRunAt = *p.RunAt
	}
	if p.Enabled != nil {
		job.Enabled = *p.Enabled
	}
	if p.MaxRetries != nil {
		if *p.MaxRetries < 0 {
			return nil, errs.Validation("max_retries must be >= 0")
		}
		job.MaxRetries = *p.MaxRetries
	}

	updated, err := s.storage.UpdateJob(ctx, job)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job updated", "job_id", id, "name", updated.Name)
	return updated, nil
}

// Delete soft-deletes a job.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.storage.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", "job_id", id)
	return nil
}
