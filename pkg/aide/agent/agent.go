// Package agent drives the language model over persisted thread state:
// it assembles the prompt, streams deltas and tool events, runs the
// tool-call loop, and persists the assistant reply.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jholhewres/aide/pkg/aide/bus"
	"github.com/jholhewres/aide/pkg/aide/llm"
	"github.com/jholhewres/aide/pkg/aide/store"
)

// Threads is the thread-service surface the agent needs.
type Threads interface {
	Messages(ctx context.Context, threadID int64) ([]store.Message, error)
	AddMessage(ctx context.Context, threadID int64, role string, model *string, content map[string]any) (*store.Message, error)
}

// Recaller surfaces memory for system-prompt assembly.
type Recaller interface {
	Recall(ctx context.Context, query string, limit int) ([]store.MemoryMatch, error)
}

// ChatModel is the LLM surface the agent needs.
type ChatModel interface {
	Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, onDelta llm.DeltaFunc) (*llm.Response, error)
	ChatModel() string
}

// ToolExecutor runs tools on the model's behalf. Execute never errors;
// failures come back as human-readable strings the model can read.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, callID, name, arguments string) string
}

// Publisher is the event-bus surface the agent needs.
type Publisher interface {
	Publish(topic string, payload any)
}

// Service is the conversation engine core.
type Service struct {
	threads       Threads
	memory        Recaller
	chat          ChatModel
	tools         ToolExecutor
	bus           Publisher
	maxIterations int
	logger        *slog.Logger
	now           func() time.Time
}

// New creates the agent service. maxIterations bounds the tool-call
// loop per run.
func New(threads Threads, memory Recaller, chat ChatModel, tools ToolExecutor, publisher Publisher, maxIterations int, logger *slog.Logger) *Service {
	return &Service{
		threads:       threads,
		memory:        memory,
		chat:          chat,
		tools:         tools,
		bus:           publisher,
		maxIterations: maxIterations,
		logger:        logger.With("component", "agent"),
		now:           time.Now,
	}
}

// Handle is the caller's view of one in-flight run. Events is a
// single-consumer stream; Err is valid once Events has closed.
type Handle struct {
	Events <-chan Event
	Model  string
	Usage  *UsageFuture

	err  error
	done chan struct{}
}

// Err returns the run's terminal error, if any. Valid after the Events
// channel closes.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// RunStream persists the user message, then drives the model over the
// thread in a background goroutine. The user message is durable before
// any remote call is made.
func (s *Service) RunStream(ctx context.Context, threadID int64, userMessage string) (*Handle, error) {
	if _, err := s.threads.AddMessage(ctx, threadID, "user", nil, map[string]any{
		"role":    "user",
		"content": userMessage,
	}); err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	h := &Handle{
		Events: events,
		Model:  s.chat.ChatModel(),
		Usage:  NewUsageFuture(),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer close(events)
		h.err = s.run(ctx, threadID, userMessage, events, h.Usage)
	}()

	return h, nil
}

// Run executes a full model run to completion, discarding events. This
// is the scheduler's entry point; interactive callers use RunStream.
func (s *Service) Run(ctx context.Context, threadID int64, userMessage string) error {
	h, err := s.RunStream(ctx, threadID, userMessage)
	if err != nil {
		return err
	}
	for range h.Events {
	}
	return h.Err()
}

// run drives the model over the thread and returns the terminal error,
// if any.
func (s *Service) run(ctx context.Context, threadID int64, userMessage string, events chan<- Event, usageFuture *UsageFuture) error {
	defer usageFuture.resolve(nil) // no-op when already resolved with a value

	messages, err := s.threads.Messages(ctx, threadID)
	if err != nil {
		return err
	}

	if s.isFirstExchange(messages) {
		if err := s.writeSystemMessage(ctx, threadID, userMessage); err != nil {
			return err
		}
		messages, err = s.threads.Messages(ctx, threadID)
		if err != nil {
			return err
		}
	}

	convo := toLLMMessages(messages)
	tools := s.tools.Definitions()

	var fullText string
	var totalUsage *llm.Usage

	onDelta := func(text string) {
		fullText += text
		select {
		case events <- Delta{Text: text}:
		case <-ctx.Done():
		}
	}

	for iteration := 0; iteration < s.maxIterations; iteration++ {
		resp, err := s.chat.Stream(ctx, convo, tools, onDelta)
		if err != nil {
			return s.finishWithError(ctx, threadID, fullText, err)
		}
		if resp.Usage != nil {
			totalUsage = addUsage(totalUsage, resp.Usage)
		}

		if len(resp.ToolCalls) == 0 {
			break
		}

		// The assistant turn with its tool calls joins the in-run
		// conversation but is never persisted: tool traffic is
		// ephemeral within a single run.
		convo = append(convo, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			select {
			case events <- ToolCall{CallID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}:
			case <-ctx.Done():
				return ctx.Err()
			}

			output := s.tools.Execute(ctx, tc.ID, tc.Function.Name, tc.Function.Arguments)

			select {
			case events <- ToolResult{CallID: tc.ID, Name: tc.Function.Name, Output: output}:
			case <-ctx.Done():
				return ctx.Err()
			}

			convo = append(convo, llm.Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: tc.ID,
			})
		}
	}

	if ctx.Err() != nil {
		// Cancelled before persistence: the partial text is discarded
		// so the thread reflects either no reply or a complete one.
		return ctx.Err()
	}

	content := map[string]any{
		"role":    "assistant",
		"content": fullText,
	}
	if totalUsage != nil {
		content["usage"] = map[string]any{
			"input_tokens":  totalUsage.InputTokens,
			"output_tokens": totalUsage.OutputTokens,
			"total_tokens":  totalUsage.TotalTokens,
		}
	}
	model := s.chat.ChatModel()
	if _, err := s.threads.AddMessage(ctx, threadID, "assistant", &model, content); err != nil {
		return err
	}

	s.bus.Publish(bus.TopicResponseComplete, threadID)
	usageFuture.resolve(totalUsage)

	s.logger.Info("run complete", "thread_id", threadID, "text_len", len(fullText))
	return nil
}

// finishWithError handles a mid-stream model failure. When partial text
// already reached the user it is persisted without usage so reloading
// the thread matches what they saw; an error with no output persists
// nothing.
func (s *Service) finishWithError(ctx context.Context, threadID int64, fullText string, cause error) error {
	if errors.Is(cause, context.Canceled) || ctx.Err() != nil {
		return cause
	}
	if fullText == "" {
		return cause
	}

	model := s.chat.ChatModel()
	if _, err := s.threads.AddMessage(ctx, threadID, "assistant", &model, map[string]any{
		"role":    "assistant",
		"content": fullText,
	}); err != nil {
		s.logger.Error("persisting partial reply failed", "thread_id", threadID, "error", err)
	}
	s.logger.Warn("run ended with upstream error after partial output",
		"thread_id", threadID, "text_len", len(fullText), "error", cause)
	return cause
}

// isFirstExchange reports whether the just-written user message is the
// thread's only non-system message.
func (s *Service) isFirstExchange(messages []store.Message) bool {
	n := 0
	for _, m := range messages {
		if m.Role != "system" {
			n++
		}
	}
	return n == 1
}

// writeSystemMessage assembles and persists the first-exchange system
// prompt. Recall is best-effort: an embedding outage downgrades to base
// instructions alone.
func (s *Service) writeSystemMessage(ctx context.Context, threadID int64, userMessage string) error {
	var matches []store.MemoryMatch
	recalled, err := s.memory.Recall(ctx, userMessage, 0)
	if err != nil {
		s.logger.Warn("memory recall for system prompt failed, continuing without",
			"thread_id", threadID, "error", err)
	} else {
		matches = recalled
	}

	text := buildSystemPrompt(s.now(), matches)
	_, err = s.threads.AddMessage(ctx, threadID, "system", nil, map[string]any{
		"role":    "system",
		"content": text,
	})
	return err
}

// toLLMMessages maps persisted structured content into the model input
// format. Tool messages are never replayed across runs.
func toLLMMessages(messages []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "tool" {
			continue
		}
		text, _ := m.Content["content"].(string)
		out = append(out, llm.Message{Role: m.Role, Content: text})
	}
	return out
}

// addUsage accumulates usage across tool-loop iterations.
func addUsage(total, u *llm.Usage) *llm.Usage {
	if total == nil {
		cp := *u
		return &cp
	}
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.TotalTokens += u.TotalTokens
	return total
}
