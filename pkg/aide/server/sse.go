package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/aide/pkg/aide/agent"
	"github.com/jholhewres/aide/pkg/aide/bus"
	"github.com/jholhewres/aide/pkg/aide/thread"
)

// keepAliveInterval paces SSE comment frames on idle connections.
const keepAliveInterval = 30 * time.Second

type chatRequest struct {
	ThreadID *int64 `json:"thread_id"`
	Message  string `json:"message"`
}

// handleChat runs one streamed exchange. The response is an SSE stream:
// a thread event first, then delta / tool_call / tool_result events,
// closed by done or error.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	var threadID int64
	if req.ThreadID != nil {
		th, err := s.threads.Get(r.Context(), *req.ThreadID)
		if err != nil {
			writeError(w, err)
			return
		}
		threadID = th.ID
	} else {
		th, err := s.threads.Create(r.Context(), thread.SourceUser, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		threadID = th.ID
	}

	if !s.tryLockThread(threadID) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a response is already streaming on this thread"})
		return
	}
	defer s.unlockThread(threadID)

	handle, err := s.agent.RunStream(r.Context(), threadID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	// Headers must be written before any events.
	sseHeaders(w)
	writeSSE(w, flusher, "thread", map[string]int64{"thread_id": threadID})

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
events:
	for {
		select {
		case ev, ok := <-handle.Events:
			if !ok {
				break events
			}
			switch e := ev.(type) {
			case agent.Delta:
				writeSSE(w, flusher, "delta", map[string]string{"content": e.Text})
			case agent.ToolCall:
				writeSSE(w, flusher, "tool_call", map[string]string{
					"callId": e.CallID, "name": e.Name, "arguments": e.Arguments,
				})
			case agent.ToolResult:
				writeSSE(w, flusher, "tool_result", map[string]string{
					"callId": e.CallID, "name": e.Name, "output": e.Output,
				})
			}
		case <-ticker.C:
			// Comment frame; tool calls can stall the stream long
			// enough for proxies to cut an idle connection.
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				break events
			}
			flusher.Flush()
		}
	}

	if err := handle.Err(); err != nil {
		s.logger.Error("chat run failed", "thread_id", threadID, "error", err)
		writeSSE(w, flusher, "error", map[string]string{"message": err.Error()})
		return
	}

	done := map[string]any{}
	if usage, err := handle.Usage.Await(r.Context()); err == nil && usage != nil {
		done["usage"] = usage
	}
	writeSSE(w, flusher, "done", done)
}

// handleEvents is the global event stream: every bus.TopicSSE event
// published anywhere in the process reaches every connected client.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	clientID := uuid.NewString()
	ch := make(chan bus.SSEEvent, 16)
	s.clientsMu.Lock()
	s.clients[clientID] = ch
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, clientID)
		s.clientsMu.Unlock()
	}()

	s.logger.Debug("event stream connected", "client_id", clientID)
	sseHeaders(w)
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("event stream disconnected", "client_id", clientID)
			return
		case ev := <-ch:
			writeSSE(w, flusher, ev.Type, ev.Data)
		case <-ticker.C:
			// Comment frame; keeps proxies from closing idle streams.
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// fanout delivers one bus event to every connected client. Slow
// clients drop events rather than block the publisher.
func (s *Server) fanout(payload any) {
	ev, ok := payload.(bus.SSEEvent)
	if !ok {
		s.logger.Warn("unexpected sse payload", "payload", payload)
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for id, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping event for slow client", "client_id", id, "event", ev.Type)
		}
	}
}
