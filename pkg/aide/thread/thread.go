// Package thread is thin orchestration over thread and message storage.
package thread

import (
	"context"
	"log/slog"

	"github.com/jholhewres/aide/pkg/aide/errs"
	"github.com/jholhewres/aide/pkg/aide/store"
)

// Thread sources.
const (
	SourceUser = "user"
	SourceWake = "wake"
)

// Storage is the store surface the service needs.
type Storage interface {
	CreateThread(ctx context.Context, source string, jobRunID *int64) (*store.Thread, error)
	GetThread(ctx context.Context, id int64) (*store.Thread, error)
	ListThreads(ctx context.Context) ([]store.Thread, error)
	UpdateThreadTitle(ctx context.Context, id int64, title string) error
	TouchThread(ctx context.Context, id int64) error
	DeleteThread(ctx context.Context, id int64) error
	AddMessage(ctx context.Context, threadID int64, role string, model *string, content map[string]any) (*store.Message, error)
	GetMessages(ctx context.Context, threadID int64) ([]store.Message, error)
}

// Service provides thread and message operations.
type Service struct {
	storage Storage
	logger  *slog.Logger
}

// New creates the thread service.
func New(storage Storage, logger *slog.Logger) *Service {
	return &Service{storage: storage, logger: logger.With("component", "thread")}
}

// Create starts a new thread. jobRunID links wake threads back to the
// run that produced them.
func (s *Service) Create(ctx context.Context, source string, jobRunID *int64) (*store.Thread, error) {
	if source != SourceUser && source != SourceWake {
		return nil, errs.Validation("invalid thread source %q", source)
	}
	t, err := s.storage.CreateThread(ctx, source, jobRunID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("thread created", "thread_id", t.ID, "source", source)
	return t, nil
}

// Get returns a thread by id.
func (s *Service) Get(ctx context.Context, id int64) (*store.Thread, error) {
	return s.storage.GetThread(ctx, id)
}

// List returns live threads, most recent first.
func (s *Service) List(ctx context.Context) ([]store.Thread, error) {
	return s.storage.ListThreads(ctx)
}

// Messages returns a thread's messages in ascending id order.
func (s *Service) Messages(ctx context.Context, threadID int64) ([]store.Message, error) {
	return s.storage.GetMessages(ctx, threadID)
}

// AddMessage appends a message. The row role and the structured
// content's role field must agree; a mismatch is a programmer error.
func (s *Service) AddMessage(ctx context.Context, threadID int64, role string, model *string, content map[string]any) (*store.Message, error) {
	if contentRole, _ := content["role"].(string); contentRole != role {
		return nil, errs.Internal("message content role does not match row role", nil)
	}
	m, err := s.storage.AddMessage(ctx, threadID, role, model, content)
	if err != nil {
		return nil, err
	}
	if err := s.storage.TouchThread(ctx, threadID); err != nil {
		s.logger.Warn("bumping thread updated_at failed", "thread_id", threadID, "error", err)
	}
	return m, nil
}

// UpdateTitle sets a thread's title.
func (s *Service) UpdateTitle(ctx context.Context, id int64, title string) error {
	if title == "" {
		return errs.Validation("title must not be empty")
	}
	return s.storage.UpdateThreadTitle(ctx, id, title)
}

// Delete soft-deletes a thread.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.storage.DeleteThread(ctx, id)
}
