// Package server exposes the HTTP API: the chat stream, the global
// event stream, and REST surfaces for threads, memories and jobs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jholhewres/aide/pkg/aide/agent"
	"github.com/jholhewres/aide/pkg/aide/bus"
	"github.com/jholhewres/aide/pkg/aide/errs"
	"github.com/jholhewres/aide/pkg/aide/jobs"
	"github.com/jholhewres/aide/pkg/aide/store"
)

// Threads is the thread-service surface the server needs.
type Threads interface {
	Create(ctx context.Context, source string, jobRunID *int64) (*store.Thread, error)
	Get(ctx context.Context, id int64) (*store.Thread, error)
	List(ctx context.Context) ([]store.Thread, error)
	Messages(ctx context.Context, threadID int64) ([]store.Message, error)
	UpdateTitle(ctx context.Context, id int64, title string) error
	Delete(ctx context.Context, id int64) error
}

// Memories is the memory-service surface the server needs.
type Memories interface {
	List(ctx context.Context) ([]store.MemoryEntry, error)
	Update(ctx context.Context, id int64, content string) (*store.MemoryEntry, error)
	Delete(ctx context.Context, id int64) error
}

// Jobs is the job-service surface the server needs.
type Jobs interface {
	Create(ctx context.Context, p jobs.Params) (*store.Job, error)
	Get(ctx context.Context, id int64) (*store.Job, error)
	List(ctx context.Context) ([]store.Job, error)
	Runs(ctx context.Context, jobID int64) ([]store.JobRun, error)
	Update(ctx context.Context, id int64, p jobs.Params) (*store.Job, error)
	Delete(ctx context.Context, id int64) error
}

// ChatAgent starts streamed model runs.
type ChatAgent interface {
	RunStream(ctx context.Context, threadID int64, userMessage string) (*agent.Handle, error)
}

// Pinger reports storage liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of the assistant.
type Server struct {
	httpServer *http.Server
	threads    Threads
	memories   Memories
	jobs       Jobs
	agent      ChatAgent
	db         Pinger
	logger     *slog.Logger
	keepAlive  time.Duration

	// runsMu guards activeRuns: one in-flight chat per thread.
	runsMu     sync.Mutex
	activeRuns map[int64]bool

	// clientsMu guards the event-stream subscribers.
	clientsMu sync.Mutex
	clients   map[string]chan bus.SSEEvent
}

// New creates the server and subscribes it to the sse topic for
// fan-out to connected event-stream clients.
func New(port int, threads Threads, memories Memories, jobSvc Jobs, chatAgent ChatAgent, db Pinger, b *bus.Bus, logger *slog.Logger) *Server {
	s := &Server{
		threads:    threads,
		memories:   memories,
		jobs:       jobSvc,
		agent:      chatAgent,
		db:         db,
		logger:     logger.With("component", "server"),
		keepAlive:  keepAliveInterval,
		activeRuns: make(map[int64]bool),
		clients:    make(map[string]chan bus.SSEEvent),
	}
	b.Subscribe(bus.TopicSSE, s.fanout)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/threads", s.handleListThreads)
	mux.HandleFunc("GET /api/threads/{id}", s.handleGetThread)
	mux.HandleFunc("PATCH /api/threads/{id}", s.handleUpdateThread)
	mux.HandleFunc("DELETE /api/threads/{id}", s.handleDeleteThread)

	mux.HandleFunc("GET /api/memories", s.handleListMemories)
	mux.HandleFunc("PATCH /api/memories/{id}", s.handleUpdateMemory)
	mux.HandleFunc("DELETE /api/memories/{id}", s.handleDeleteMemory)

	mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("PATCH /api/jobs/{id}", s.handleUpdateJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDeleteJob)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errs.Validation("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// tryLockThread reserves a thread for one in-flight run.
func (s *Server) tryLockThread(id int64) bool {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	if s.activeRuns[id] {
		return false
	}
	s.activeRuns[id] = true
	return true
}

func (s *Server) unlockThread(id int64) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	delete(s.activeRuns, id)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errs.HTTPStatus(err), map[string]string{"error": err.Error()})
}

// writeSSE writes a named SSE event to the response writer.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, string(b))
	flusher.Flush()
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}
