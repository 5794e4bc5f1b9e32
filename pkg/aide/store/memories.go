package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/jholhewres/aide/pkg/aide/errs"
)

// MemoryEntry is one stored fact with its embedding.
type MemoryEntry struct {
	ID        int64
	Content   string
	Source    string // "agent" or "user"
	ThreadID  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoryMatch is a similarity-search hit.
type MemoryMatch struct {
	Entry      MemoryEntry
	Similarity float64
}

// CreateMemory inserts a memory entry with its embedding.
func (s *Store) CreateMemory(ctx context.Context, content string, embedding []float32, source string, threadID *int64) (*MemoryEntry, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO memory_entries (content, embedding, source, thread_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, content, source, thread_id, created_at, updated_at`,
		content, pgvector.NewVector(embedding), source, threadID)

	var e MemoryEntry
	if err := row.Scan(&e.ID, &e.Content, &e.Source, &e.ThreadID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, errs.Storage("inserting memory entry", err)
	}
	return &e, nil
}

// UpdateMemory replaces content and embedding in one statement, keeping
// the two consistent.
func (s *Store) UpdateMemory(ctx context.Context, id int64, content string, embedding []float32) (*MemoryEntry, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE memory_entries
		SET content = $2, embedding = $3, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id, content, source, thread_id, created_at, updated_at`,
		id, content, pgvector.NewVector(embedding))

	var e MemoryEntry
	if err := row.Scan(&e.ID, &e.Content, &e.Source, &e.ThreadID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("memory entry", id)
		}
		return nil, errs.Storage("updating memory entry", err)
	}
	return &e, nil
}

// ListMemories returns live entries, newest first.
func (s *Store) ListMemories(ctx context.Context) ([]MemoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, source, thread_id, created_at, updated_at
		FROM memory_entries
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, errs.Storage("listing memory entries", err)
	}
	defer rows.Close()

	var out []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.Content, &e.Source, &e.ThreadID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, errs.Storage("scanning memory entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("iterating memory entries", err)
	}
	return out, nil
}

// DeleteMemory soft-deletes an entry. Idempotent delete reports not found.
func (s *Store) DeleteMemory(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE memory_entries SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return errs.Storage("deleting memory entry", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("memory entry", id)
	}
	return nil
}

// SearchMemories returns the top-limit entries by cosine similarity to
// the query vector, filtered to similarity >= threshold. Served by the
// HNSW index.
func (s *Store) SearchMemories(ctx context.Context, query []float32, limit int, threshold float64) ([]MemoryMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, source, thread_id, created_at, updated_at,
		       1 - (embedding <=> $1) AS similarity
		FROM memory_entries
		WHERE deleted_at IS NULL AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(query), limit, threshold)
	if err != nil {
		return nil, errs.Storage("searching memory entries", err)
	}
	defer rows.Close()

	var out []MemoryMatch
	for rows.Next() {
		var m MemoryMatch
		if err := rows.Scan(&m.Entry.ID, &m.Entry.Content, &m.Entry.Source, &m.Entry.ThreadID,
			&m.Entry.CreatedAt, &m.Entry.UpdatedAt, &m.Similarity); err != nil {
			return nil, errs.Storage("scanning memory match", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("iterating memory matches", err)
	}
	return out, nil
}
