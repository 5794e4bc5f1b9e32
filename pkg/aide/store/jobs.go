package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jholhewres/aide/pkg/aide/errs"
)

// Job is one scheduled job. Exactly one of Prompt or
// (SkillName + SkillConfig) is the payload; the jobs service enforces
// that above this layer.
type Job struct {
	ID          int64
	Name        string
	Schedule    *string // cron expression; nil for one-shot jobs
	Prompt      *string
	SkillName   *string
	SkillConfig map[string]any
	Enabled     bool
	MaxRetries  int
	NextRunAt   time.Time
	LastRunAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const jobColumns = `id, name, schedule, prompt, skill_name, skill_config,
	enabled, max_retries, next_run_at, last_run_at, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var configJSON []byte
	err := row.Scan(&j.ID, &j.Name, &j.Schedule, &j.Prompt, &j.SkillName, &configJSON,
		&j.Enabled, &j.MaxRetries, &j.NextRunAt, &j.LastRunAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &j.SkillConfig); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

// CreateJob inserts a job.
func (s *Store) CreateJob(ctx context.Context, j *Job) (*Job, error) {
	var configJSON []byte
	if j.SkillConfig != nil {
		var err error
		configJSON, err = json.Marshal(j.SkillConfig)
		if err != nil {
			return nil, errs.Storage("encoding skill config", err)
		}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (name, schedule, prompt, skill_name, skill_config, enabled, max_retries, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+jobColumns,
		j.Name, j.Schedule, j.Prompt, j.SkillName, configJSON, j.Enabled, j.MaxRetries, j.NextRunAt)

	created, err := scanJob(row)
	if err != nil {
		return nil, errs.Storage("inserting job", err)
	}
	return created, nil
}

// GetJob returns a live job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1 AND deleted_at IS NULL`, id)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("job", id)
		}
		return nil, errs.Storage("querying job", err)
	}
	return j, nil
}

// ListJobs returns live jobs, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, errs.Storage("listing jobs", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errs.Storage("scanning job", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("iterating jobs", err)
	}
	return out, nil
}

// JobsDue returns enabled live jobs whose next_run_at has passed.
func (s *Store) JobsDue(ctx context.Context, now time.Time) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE enabled AND deleted_at IS NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, errs.Storage("querying due jobs", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errs.Storage("scanning due job", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("iterating due jobs", err)
	}
	return out, nil
}

// UpdateJob writes mutable job fields.
func (s *Store) UpdateJob(ctx context.Context, j *Job) (*Job, error) {
	var configJSON []byte
	if j.SkillConfig != nil {
		var err error
		configJSON, err = json.Marshal(j.SkillConfig)
		if err != nil {
			return nil, errs.Storage("encoding skill config", err)
		}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET name = $2, schedule = $3, prompt = $4, skill_name = $5, skill_config = $6,
		    enabled = $7, max_retries = $8, next_run_at = $9, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+jobColumns,
		j.ID, j.Name, j.Schedule, j.Prompt, j.SkillName, configJSON, j.Enabled, j.MaxRetries, j.NextRunAt)

	updated, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("job", j.ID)
		}
		return nil, errs.Storage("updating job", err)
	}
	return updated, nil
}

// SetJobNextRun advances a job's next fire time.
func (s *Store) SetJobNextRun(ctx context.Context, id int64, next time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE jobs SET next_run_at = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, next); err != nil {
		return errs.Storage("setting job next run", err)
	}
	return nil
}

// SetJobEnabled flips the enabled flag.
func (s *Store) SetJobEnabled(ctx context.Context, id int64, enabled bool) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE jobs SET enabled = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, enabled); err != nil {
		return errs.Storage("setting job enabled", err)
	}
	return nil
}

// SetJobLastRun records the most recent execution time.
func (s *Store) SetJobLastRun(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE jobs SET last_run_at = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, at); err != nil {
		return errs.Storage("setting job last run", err)
	}
	return nil
}

// DeleteJob soft-deletes a job.
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return errs.Storage("deleting job", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("job", id)
	}
	return nil
}
