package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jholhewres/aide/pkg/aide/bus"
	"github.com/jholhewres/aide/pkg/aide/llm"
	"github.com/jholhewres/aide/pkg/aide/store"
)

// TitleThreads is the thread-service surface the title handler needs.
type TitleThreads interface {
	Messages(ctx context.Context, threadID int64) ([]store.Message, error)
	UpdateTitle(ctx context.Context, id int64, title string) error
}

// Completer is the one-shot LLM surface used for titling.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error)
}

// TitleHandler titles a thread after its first exchange. Everything in
// here is best-effort: any unexpected state is a silent no-op and no
// failure ever surfaces.
type TitleHandler struct {
	threads TitleThreads
	chat    Completer
	bus     Publisher
	logger  *slog.Logger
	timeout time.Duration
}

// NewTitleHandler creates the handler and subscribes it to
// response:complete. The LM call runs on its own goroutine so the
// publisher is never blocked.
func NewTitleHandler(b *bus.Bus, threads TitleThreads, chat Completer, logger *slog.Logger) *TitleHandler {
	h := &TitleHandler{
		threads: threads,
		chat:    chat,
		bus:     b,
		logger:  logger.With("component", "title"),
		timeout: 30 * time.Second,
	}
	b.Subscribe(bus.TopicResponseComplete, func(payload any) {
		threadID, ok := payload.(int64)
		if !ok {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			defer cancel()
			h.Handle(ctx, threadID)
		}()
	})
	return h
}

// Handle titles the thread if its first exchange just completed.
func (h *TitleHandler) Handle(ctx context.Context, threadID int64) {
	messages, err := h.threads.Messages(ctx, threadID)
	if err != nil {
		h.logger.Warn("loading messages for titling failed", "thread_id", threadID, "error", err)
		return
	}

	var userText, assistantText string
	nonSystem := 0
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		nonSystem++
		text, _ := m.Content["content"].(string)
		switch m.Role {
		case "user":
			userText = text
		case "assistant":
			assistantText = text
		}
	}
	// Only the first exchange gets a title; anything else is a no-op.
	if nonSystem != 2 || userText == "" {
		return
	}

	snippet := assistantText
	if len(snippet) > 300 {
		// Cut on a rune boundary; a split rune would feed the model
		// invalid UTF-8.
		cut := 300
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut]
	}

	prompt := fmt.Sprintf(
		"Write a 3-6 word title for this conversation. Reply with the title only, no quotes.\n\nUser: %s\n\nAssistant: %s",
		userText, snippet)

	resp, err := h.chat.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		h.logger.Warn("title generation failed", "thread_id", threadID, "error", err)
		return
	}

	title := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	if title == "" {
		return
	}

	if err := h.threads.UpdateTitle(ctx, threadID, title); err != nil {
		h.logger.Warn("saving title failed", "thread_id", threadID, "error", err)
		return
	}

	h.bus.Publish(bus.TopicSSE, bus.SSEEvent{
		Type: "thread:updated",
		Data: map[string]any{"id": threadID, "title": title},
	})
	h.logger.Info("thread titled", "thread_id", threadID, "title", title)
}
