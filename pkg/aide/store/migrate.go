package store

import (
	"context"
	"fmt"
)

// migrations are idempotent and run in order on every start.
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS threads (
		id          BIGSERIAL PRIMARY KEY,
		title       TEXT,
		source      TEXT NOT NULL DEFAULT 'user' CHECK (source IN ('user', 'wake')),
		job_run_id  BIGINT,
		deleted_at  TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id          BIGSERIAL PRIMARY KEY,
		thread_id   BIGINT NOT NULL REFERENCES threads(id),
		role        TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant', 'tool')),
		model       TEXT,
		content     JSONB NOT NULL,
		deleted_at  TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (thread_id, id)`,

	`CREATE TABLE IF NOT EXISTS memory_entries (
		id          BIGSERIAL PRIMARY KEY,
		content     TEXT NOT NULL,
		embedding   vector(1536) NOT NULL,
		source      TEXT NOT NULL DEFAULT 'agent' CHECK (source IN ('agent', 'user')),
		thread_id   BIGINT REFERENCES threads(id),
		deleted_at  TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memory_embedding ON memory_entries
		USING hnsw (embedding vector_cosine_ops)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id           BIGSERIAL PRIMARY KEY,
		name         TEXT NOT NULL,
		schedule     TEXT,
		prompt       TEXT,
		skill_name   TEXT,
		skill_config JSONB,
		enabled      BOOLEAN NOT NULL DEFAULT true,
		max_retries  INT NOT NULL DEFAULT 3 CHECK (max_retries >= 0),
		next_run_at  TIMESTAMPTZ NOT NULL,
		last_run_at  TIMESTAMPTZ,
		deleted_at   TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS job_runs (
		id            BIGSERIAL PRIMARY KEY,
		job_id        BIGINT NOT NULL REFERENCES jobs(id),
		scheduled_for TIMESTAMPTZ NOT NULL,
		locked_until  TIMESTAMPTZ,
		status        TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'running', 'completed', 'failed')),
		retry_count   INT NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
		thread_id     BIGINT REFERENCES threads(id),
		error         TEXT,
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (job_id, scheduled_for)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs (status, id)`,
}

// migrate applies the schema. Statements are idempotent so this is safe
// to run on every start.
func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	s.logger.Debug("migrations applied", "count", len(migrations))
	return nil
}
