package tools

import (
	"context"
	"encoding/json"
	"time"
)

// DatetimeTool reports the current wall clock.
type DatetimeTool struct {
	now func() time.Time
}

// NewDatetimeTool creates the current_datetime tool.
func NewDatetimeTool() *DatetimeTool {
	return &DatetimeTool{now: time.Now}
}

func (t *DatetimeTool) Name() string { return "current_datetime" }

func (t *DatetimeTool) Description() string {
	return "Get the current local date and time."
}

func (t *DatetimeTool) Parameters() json.RawMessage {
	return schema(`{"type": "object", "properties": {}}`)
}

func (t *DatetimeTool) Execute(context.Context, json.RawMessage) (string, error) {
	return t.now().Format("Monday, January 2, 2006 at 15:04:05 MST"), nil
}
