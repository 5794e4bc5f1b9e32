package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jholhewres/aide/pkg/aide/errs"
)

// DeltaFunc is called for each text delta during streaming.
type DeltaFunc func(text string)

// streamChoice represents a single choice in a streaming chunk.
type streamChoice struct {
	Index int `json:"index"`
	Delta struct {
		Content   string           `json:"content"`
		ToolCalls []streamToolCall `json:"tool_calls,omitempty"`
	} `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// streamToolCall is a tool call delta; id, name and arguments arrive in chunks.
type streamToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

// streamResponse is the SSE chunk format.
type streamResponse struct {
	Choices []streamChoice `json:"choices"`
	Usage   *wireUsage     `json:"usage,omitempty"`
}

// Stream performs a streaming chat completion. onDelta is invoked for
// each text delta as it arrives; the returned Response carries the full
// accumulated text, any tool calls the model requested, and usage when
// the provider reported it in the final chunk.
func (c *Client) Stream(ctx context.Context, messages []Message, tools []ToolDefinition, onDelta DeltaFunc) (*Response, error) {
	reqBody := chatRequest{
		Model:         c.chatModel,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	if len(tools) > 0 {
		reqBody.Tools = tools
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatEndpoint(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("sending streaming chat completion",
		"model", c.chatModel,
		"messages", len(messages),
		"tools", len(tools),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Upstream("chat stream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("chat API error",
			"model", c.chatModel,
			"status", resp.StatusCode,
			"body", truncate(string(body), 500),
		)
		return nil, errs.Upstream(
			fmt.Sprintf("chat API returned %d", resp.StatusCode),
			fmt.Errorf("%s", truncate(string(body), 200)),
		)
	}

	var contentBuilder strings.Builder
	toolCallsAccum := make(map[int]*ToolCall) // index -> accumulated tool call
	finishReason := ""
	var usage *Usage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 64KB initial, 1MB max line

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk streamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Debug("failed to parse SSE chunk, skipping", "payload", truncate(payload, 100), "error", err)
			continue
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				contentBuilder.WriteString(choice.Delta.Content)
				if onDelta != nil {
					onDelta(choice.Delta.Content)
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := tc.Index
				acc, ok := toolCallsAccum[idx]
				if !ok {
					acc = &ToolCall{Type: "function"}
					toolCallsAccum[idx] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Function.Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					acc.Function.Arguments += tc.Function.Arguments
				}
			}

			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishReason = *choice.FinishReason
			}
		}

		// Usage arrives in the final chunk when stream_options requested it.
		if chunk.Usage != nil {
			usage = chunk.Usage.toUsage()
		}
	}

	if err := scanner.Err(); err != nil {
		partial := strings.TrimSpace(contentBuilder.String())
		return &Response{Content: partial, Model: c.chatModel},
			errs.Upstream("reading chat stream", err)
	}

	// Build ordered tool calls from the accumulated map.
	indices := make([]int, 0, len(toolCallsAccum))
	for k := range toolCallsAccum {
		indices = append(indices, k)
	}
	sort.Ints(indices)
	toolCalls := make([]ToolCall, 0, len(indices))
	for _, i := range indices {
		if acc, ok := toolCallsAccum[i]; ok && (acc.ID != "" || acc.Function.Name != "") {
			toolCalls = append(toolCalls, *acc)
		}
	}

	c.logger.Info("streaming chat completion done",
		"model", c.chatModel,
		"duration_ms", time.Since(start).Milliseconds(),
		"finish_reason", finishReason,
		"tool_calls", len(toolCalls),
	)

	return &Response{
		Content:      strings.TrimSpace(contentBuilder.String()),
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage:        usage,
		Model:        c.chatModel,
	}, nil
}
