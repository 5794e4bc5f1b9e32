package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jholhewres/aide/pkg/aide/errs"
)

// JobRun is one execution attempt of a job at a nominal fire instant.
type JobRun struct {
	ID           int64
	JobID        int64
	ScheduledFor time.Time
	LockedUntil  *time.Time
	Status       string // pending, running, completed, failed
	RetryCount   int
	ThreadID     *int64
	Error        *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

const runColumns = `id, job_id, scheduled_for, locked_until, status, retry_count,
	thread_id, error, started_at, completed_at, created_at`

func scanRun(row pgx.Row) (*JobRun, error) {
	var r JobRun
	err := row.Scan(&r.ID, &r.JobID, &r.ScheduledFor, &r.LockedUntil, &r.Status, &r.RetryCount,
		&r.ThreadID, &r.Error, &r.StartedAt, &r.CompletedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRunIdempotent enqueues a run for (jobID, scheduledFor). The
// insert is suppressed when that pair already exists, or when another
// run for the same job is currently running (prevents overlapping
// executions of a slow job). Reports whether a row was inserted.
func (s *Store) CreateRunIdempotent(ctx context.Context, jobID int64, scheduledFor time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (job_id, scheduled_for)
		SELECT $1, $2
		WHERE NOT EXISTS (
			SELECT 1 FROM job_runs WHERE job_id = $1 AND status = 'running'
		)
		ON CONFLICT (job_id, scheduled_for) DO NOTHING`,
		jobID, scheduledFor)
	if err != nil {
		return false, errs.Storage("enqueueing job run", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimPendingRun atomically claims at most one pending run, oldest
// first, marking it running with a fresh lease. Pending rows whose
// locked_until lies in the future are retry-backoff holds and are
// skipped. Returns nil when nothing is claimable.
func (s *Store) ClaimPendingRun(ctx context.Context, now time.Time, lease time.Duration) (*JobRun, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE job_runs
		SET status = 'running', started_at = $1, locked_until = $2
		WHERE id = (
			SELECT id FROM job_runs
			WHERE status = 'pending' AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+runColumns,
		now, now.Add(lease))

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Storage("claiming pending run", err)
	}
	return r, nil
}

// RefreshRunLock extends the lease of a running run.
func (s *Store) RefreshRunLock(ctx context.Context, id int64, until time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET locked_until = $2
		WHERE id = $1 AND status = 'running'`, id, until); err != nil {
		return errs.Storage("refreshing run lock", err)
	}
	return nil
}

// ResetAbandonedRuns returns running rows with an expired lease to
// pending. This is the sole recovery path after a process crash.
func (s *Store) ResetAbandonedRuns(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET status = 'pending', locked_until = NULL
		WHERE status = 'running' AND locked_until < $1`, now)
	if err != nil {
		return 0, errs.Storage("resetting abandoned runs", err)
	}
	return tag.RowsAffected(), nil
}

// CompleteRun marks a run completed, clearing the lease. threadID links
// the wake thread a prompt run produced; nil for skill runs.
func (s *Store) CompleteRun(ctx context.Context, id int64, threadID *int64) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET status = 'completed', completed_at = now(), thread_id = $2, locked_until = NULL
		WHERE id = $1`, id, threadID); err != nil {
		return errs.Storage("completing run", err)
	}
	return nil
}

// FailRun marks a run terminally failed, incrementing retry_count and
// recording the error.
func (s *Store) FailRun(ctx context.Context, id int64, errMsg string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET status = 'failed', completed_at = now(), error = $2,
		    retry_count = retry_count + 1, locked_until = NULL
		WHERE id = $1`, id, errMsg); err != nil {
		return errs.Storage("failing run", err)
	}
	return nil
}

// RetryRun returns a failed attempt to pending with a backoff hold:
// the run becomes claimable once retryAt passes.
func (s *Store) RetryRun(ctx context.Context, id int64, errMsg string, retryAt time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET status = 'pending', error = $2, retry_count = retry_count + 1,
		    locked_until = $3, started_at = NULL
		WHERE id = $1`, id, errMsg, retryAt); err != nil {
		return errs.Storage("scheduling run retry", err)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id int64) (*JobRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM job_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("job run", id)
		}
		return nil, errs.Storage("querying run", err)
	}
	return r, nil
}

// ListRuns returns a job's run history, most recent first.
func (s *Store) ListRuns(ctx context.Context, jobID int64) ([]JobRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM job_runs
		WHERE job_id = $1
		ORDER BY id DESC`, jobID)
	if err != nil {
		return nil, errs.Storage("listing runs", err)
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errs.Storage("scanning run", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("iterating runs", err)
	}
	return out, nil
}
