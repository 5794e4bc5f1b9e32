// Package bus is a topic-keyed in-process publish/subscribe. Handlers
// run on the publishing goroutine; subscribers that need long work
// schedule their own background execution.
package bus

import (
	"log/slog"
	"sync"
)

// Topics used across the server.
const (
	TopicResponseComplete = "response:complete"
	TopicSSE              = "sse"
)

// SSEEvent is the payload published on the sse topic for fan-out to
// connected clients.
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Handler receives a published payload.
type Handler func(payload any)

// Bus dispatches payloads to topic subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With("component", "bus"),
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers payload to every subscriber of topic, on the calling
// goroutine. A panicking handler is recovered and logged so one bad
// subscriber cannot take down the publisher.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	hs := b.handlers[topic]
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(topic, h, payload)
	}
}

func (b *Bus) dispatch(topic string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", "topic", topic, "panic", r)
		}
	}()
	h(payload)
}
