// Package memory implements the persistent memory service: embed,
// store, similarity-search and soft-delete memory entries.
// Deduplication is the model's responsibility — the remember tool
// instructs it to recall first and pass replace_id to overwrite; the
// service performs no implicit merge.
package memory

import (
	"context"
	"log/slog"

	"github.com/jholhewres/aide/pkg/aide/store"
)

// Recall defaults.
const (
	RecallThreshold    = 0.30
	DefaultRecallLimit = 10
)

// Storage is the store surface the service needs.
type Storage interface {
	CreateMemory(ctx context.Context, content string, embedding []float32, source string, threadID *int64) (*store.MemoryEntry, error)
	UpdateMemory(ctx context.Context, id int64, content string, embedding []float32) (*store.MemoryEntry, error)
	ListMemories(ctx context.Context) ([]store.MemoryEntry, error)
	DeleteMemory(ctx context.Context, id int64) error
	SearchMemories(ctx context.Context, query []float32, limit int, threshold float64) ([]store.MemoryMatch, error)
}

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service orchestrates embeddings and storage.
type Service struct {
	storage  Storage
	embedder Embedder
	logger   *slog.Logger
}

// New creates the memory service.
func New(storage Storage, embedder Embedder, logger *slog.Logger) *Service {
	return &Service{
		storage:  storage,
		embedder: embedder,
		logger:   logger.With("component", "memory"),
	}
}

// Remember embeds content and stores it. When replaceID is non-nil the
// existing entry's content and embedding are replaced in one operation;
// otherwise a new entry is created.
func (s *Service) Remember(ctx context.Context, content, source string, threadID, replaceID *int64) (*store.MemoryEntry, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}

	if replaceID != nil {
		entry, err := s.storage.UpdateMemory(ctx, *replaceID, content, vec)
		if err != nil {
			return nil, err
		}
		s.logger.Info("memory updated", "id", entry.ID, "source", source)
		return entry, nil
	}

	entry, err := s.storage.CreateMemory(ctx, content, vec, source, threadID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("memory stored", "id", entry.ID, "source", source)
	return entry, nil
}

// Recall embeds the query and returns the most similar entries above
// the recall threshold, most similar first. limit <= 0 uses the default.
func (s *Service) Recall(ctx context.Context, query string, limit int) ([]store.MemoryMatch, error) {
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.storage.SearchMemories(ctx, vec, limit, RecallThreshold)
}

// List returns all live entries.
func (s *Service) List(ctx context.Context) ([]store.MemoryEntry, error) {
	return s.storage.ListMemories(ctx)
}

// Update replaces an entry's content, re-embedding so content and
// embedding stay consistent.
func (s *Service) Update(ctx context.Context, id int64, content string) (*store.MemoryEntry, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}
	return s.storage.UpdateMemory(ctx, id, content, vec)
}

// Delete soft-deletes an entry.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.storage.DeleteMemory(ctx, id)
}
