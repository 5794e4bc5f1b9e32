package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jholhewres/aide/pkg/aide/errs"
)

// Thread is one conversation.
type Thread struct {
	ID        int64
	Title     *string
	Source    string // "user" or "wake"
	JobRunID  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateThread inserts a new thread. Title is never set at creation.
func (s *Store) CreateThread(ctx context.Context, source string, jobRunID *int64) (*Thread, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO threads (source, job_run_id)
		VALUES ($1, $2)
		RETURNING id, title, source, job_run_id, created_at, updated_at`,
		source, jobRunID)

	var t Thread
	if err := row.Scan(&t.ID, &t.Title, &t.Source, &t.JobRunID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, errs.Storage("inserting thread", err)
	}
	return &t, nil
}

// GetThread returns a thread by id, excluding soft-deleted rows.
func (s *Store) GetThread(ctx context.Context, id int64) (*Thread, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, source, job_run_id, created_at, updated_at
		FROM threads
		WHERE id = $1 AND deleted_at IS NULL`, id)

	var t Thread
	if err := row.Scan(&t.ID, &t.Title, &t.Source, &t.JobRunID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("thread", id)
		}
		return nil, errs.Storage("querying thread", err)
	}
	return &t, nil
}

// ListThreads returns live threads, most recently updated first.
func (s *Store) ListThreads(ctx context.Context) ([]Thread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, source, job_run_id, created_at, updated_at
		FROM threads
		WHERE deleted_at IS NULL
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, errs.Storage("listing threads", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.Title, &t.Source, &t.JobRunID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, errs.Storage("scanning thread", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("iterating threads", err)
	}
	return out, nil
}

// UpdateThreadTitle sets the title of a live thread.
func (s *Store) UpdateThreadTitle(ctx context.Context, id int64, title string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE threads SET title = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, title)
	if err != nil {
		return errs.Storage("updating thread title", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("thread", id)
	}
	return nil
}

// TouchThread bumps updated_at, used when a message lands on a thread.
func (s *Store) TouchThread(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE threads SET updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id); err != nil {
		return errs.Storage("touching thread", err)
	}
	return nil
}

// DeleteThread soft-deletes a thread. Deleting twice reports not found.
func (s *Store) DeleteThread(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE threads SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return errs.Storage("deleting thread", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("thread", id)
	}
	return nil
}
