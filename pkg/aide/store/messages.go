package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jholhewres/aide/pkg/aide/errs"
)

// Message is one message row. Content is the structured document and is
// the source of truth; the role column mirrors content["role"] for
// filtering.
type Message struct {
	ID        int64
	ThreadID  int64
	Role      string // system, user, assistant, tool
	Model     *string
	Content   map[string]any
	CreatedAt time.Time
}

// AddMessage appends a message to a thread. Content must carry a "role"
// field matching the row role; callers enforce that above this layer.
func (s *Store) AddMessage(ctx context.Context, threadID int64, role string, model *string, content map[string]any) (*Message, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, errs.Storage("encoding message content", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (thread_id, role, model, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		threadID, role, model, contentJSON)

	m := &Message{ThreadID: threadID, Role: role, Model: model, Content: content}
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return nil, errs.Storage("inserting message", err)
	}
	return m, nil
}

// GetMessages returns a thread's live messages in ascending id order.
func (s *Store) GetMessages(ctx context.Context, threadID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, role, model, content, created_at
		FROM messages
		WHERE thread_id = $1 AND deleted_at IS NULL
		ORDER BY id ASC`, threadID)
	if err != nil {
		return nil, errs.Storage("listing messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var contentJSON []byte
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Model, &contentJSON, &m.CreatedAt); err != nil {
			return nil, errs.Storage("scanning message", err)
		}
		if err := json.Unmarshal(contentJSON, &m.Content); err != nil {
			return nil, errs.Storage("decoding message content", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("iterating messages", err)
	}
	return out, nil
}
