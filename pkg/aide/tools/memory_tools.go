package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jholhewres/aide/pkg/aide/store"
)

// MemoryService is the memory surface the remember/recall tools need.
type MemoryService interface {
	Remember(ctx context.Context, content, source string, threadID, replaceID *int64) (*store.MemoryEntry, error)
	Recall(ctx context.Context, query string, limit int) ([]store.MemoryMatch, error)
}

// maxRecallLimit caps what the model may request.
const maxRecallLimit = 20

// RememberTool stores one atomic fact.
type RememberTool struct {
	memory MemoryService
}

// NewRememberTool creates the remember tool.
func NewRememberTool(memory MemoryService) *RememberTool {
	return &RememberTool{memory: memory}
}

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Store one atomic fact in long-term memory. Call recall first; pass replace_id to overwrite an existing memory instead of adding a duplicate."
}

func (t *RememberTool) Parameters() json.RawMessage {
	return schema(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The single fact to store"},
			"replace_id": {"type": "integer", "description": "Id of an existing memory to overwrite"}
		},
		"required": ["content"]
	}`)
}

func (t *RememberTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Content   string `json:"content"`
		ReplaceID *int64 `json:"replace_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if strings.TrimSpace(in.Content) == "" {
		return "", fmt.Errorf("content is required")
	}

	entry, err := t.memory.Remember(ctx, in.Content, "agent", nil, in.ReplaceID)
	if err != nil {
		return "", err
	}
	if in.ReplaceID != nil {
		return fmt.Sprintf("Updated memory %d: %s", entry.ID, entry.Content), nil
	}
	return fmt.Sprintf("Remembered (id %d): %s", entry.ID, entry.Content), nil
}

// RecallTool searches long-term memory.
type RecallTool struct {
	memory MemoryService
}

// NewRecallTool creates the recall tool.
func NewRecallTool(memory MemoryService) *RecallTool {
	return &RecallTool{memory: memory}
}

func (t *RecallTool) Name() string { return "recall" }

func (t *RecallTool) Description() string {
	return "Search long-term memory for facts relevant to a query. Returns matches with their ids and relevance."
}

func (t *RecallTool) Parameters() json.RawMessage {
	return schema(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to look for"},
			"limit": {"type": "integer", "description": "Max results, up to 20 (default 10)"}
		},
		"required": ["query"]
	}`)
}

func (t *RecallTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	if in.Limit > maxRecallLimit {
		in.Limit = maxRecallLimit
	}

	matches, err := t.memory.Recall(ctx, in.Query, in.Limit)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No relevant memories found.", nil
	}

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "- [id %d, %.0f%%] %s\n", m.Entry.ID, m.Similarity*100, m.Entry.Content)
	}
	return b.String(), nil
}
