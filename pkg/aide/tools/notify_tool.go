package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Notifier is the push surface the notify tool needs.
type Notifier interface {
	Send(ctx context.Context, title, body, tag, clickURL string)
	Enabled() bool
}

// NotifyTool sends a push notification on the model's behalf.
type NotifyTool struct {
	notifier Notifier
}

// NewNotifyTool creates the notify tool.
func NewNotifyTool(notifier Notifier) *NotifyTool {
	return &NotifyTool{notifier: notifier}
}

func (t *NotifyTool) Name() string { return "notify" }

func (t *NotifyTool) Description() string {
	return "Send a push notification to the user's devices."
}

func (t *NotifyTool) Parameters() json.RawMessage {
	return schema(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "Notification title"},
			"body": {"type": "string", "description": "Notification body"},
			"tag": {"type": "string", "description": "Optional emoji tag, e.g. bell"}
		},
		"required": ["title", "body"]
	}`)
}

func (t *NotifyTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Tag   string `json:"tag"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Body) == "" {
		return "", fmt.Errorf("title and body are required")
	}
	if !t.notifier.Enabled() {
		return "Notifications are not configured on this server.", nil
	}

	t.notifier.Send(ctx, in.Title, in.Body, in.Tag, "")
	return "Notification sent.", nil
}
