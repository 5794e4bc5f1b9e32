package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jholhewres/aide/pkg/aide/errs"
	"github.com/jholhewres/aide/pkg/aide/jobs"
	"github.com/jholhewres/aide/pkg/aide/store"
)

// API representations. Store types stay JSON-agnostic; the wire shape
// is decided here.

type threadJSON struct {
	ID        int64     `json:"id"`
	Title     *string   `json:"title"`
	Source    string    `json:"source"`
	JobRunID  *int64    `json:"job_run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toThreadJSON(t *store.Thread) threadJSON {
	return threadJSON{
		ID: t.ID, Title: t.Title, Source: t.Source, JobRunID: t.JobRunID,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
}

type messageJSON struct {
	ID        int64          `json:"id"`
	ThreadID  int64          `json:"thread_id"`
	Role      string         `json:"role"`
	Model     *string        `json:"model,omitempty"`
	Content   map[string]any `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

func toMessageJSON(m *store.Message) messageJSON {
	return messageJSON{
		ID: m.ID, ThreadID: m.ThreadID, Role: m.Role, Model: m.Model,
		Content: m.Content, CreatedAt: m.CreatedAt,
	}
}

type memoryJSON struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	ThreadID  *int64    `json:"thread_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toMemoryJSON(m *store.MemoryEntry) memoryJSON {
	return memoryJSON{
		ID: m.ID, Content: m.Content, Source: m.Source, ThreadID: m.ThreadID,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

type jobJSON struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Schedule    *string        `json:"schedule,omitempty"`
	Prompt      *string        `json:"prompt,omitempty"`
	SkillName   *string        `json:"skill_name,omitempty"`
	SkillConfig map[string]any `json:"skill_config,omitempty"`
	Enabled     bool           `json:"enabled"`
	MaxRetries  int            `json:"max_retries"`
	NextRunAt   time.Time      `json:"next_run_at"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func toJobJSON(j *store.Job) jobJSON {
	return jobJSON{
		ID: j.ID, Name: j.Name, Schedule: j.Schedule, Prompt: j.Prompt,
		SkillName: j.SkillName, SkillConfig: j.SkillConfig,
		Enabled: j.Enabled, MaxRetries: j.MaxRetries,
		NextRunAt: j.NextRunAt, LastRunAt: j.LastRunAt,
		CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
	}
}

type runJSON struct {
	ID           int64      `json:"id"`
	JobID        int64      `json:"job_id"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	ThreadID     *int64     `json:"thread_id,omitempty"`
	Error        *string    `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toRunJSON(r *store.JobRun) runJSON {
	return runJSON{
		ID: r.ID, JobID: r.JobID, ScheduledFor: r.ScheduledFor, Status: r.Status,
		RetryCount: r.RetryCount, ThreadID: r.ThreadID, Error: r.Error,
		StartedAt: r.StartedAt, CompletedAt: r.CompletedAt, CreatedAt: r.CreatedAt,
	}
}

// ── Threads ──

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.threads.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]threadJSON, 0, len(threads))
	for i := range threads {
		out = append(out, toThreadJSON(&threads[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	th, err := s.threads.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	messages, err := s.threads.Messages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs := make([]messageJSON, 0, len(messages))
	for i := range messages {
		msgs = append(msgs, toMessageJSON(&messages[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread":   toThreadJSON(th),
		"messages": msgs,
	})
}

func (s *Server) handleUpdateThread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid request body"))
		return
	}
	if err := s.threads.UpdateTitle(r.Context(), id, req.Title); err != nil {
		writeError(w, err)
		return
	}
	th, err := s.threads.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toThreadJSON(th))
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.threads.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Memories ──

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	entries, err := s.memories.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]memoryJSON, 0, len(entries))
	for i := range entries {
		out = append(out, toMemoryJSON(&entries[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid request body"))
		return
	}
	entry, err := s.memories.Update(r.Context(), id, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemoryJSON(entry))
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.memories.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Jobs ──

// jobRequest is the create/update body; absent fields stay unchanged
// on update.
type jobRequest struct {
	Name        *string        `json:"name"`
	Schedule    *string        `json:"schedule"`
	RunAt       *string        `json:"run_at"`
	Prompt      *string        `json:"prompt"`
	SkillName   *string        `json:"skill_name"`
	SkillConfig map[string]any `json:"skill_config"`
	Enabled     *bool          `json:"enabled"`
	MaxRetries  *int           `json:"max_retries"`
}

func (req *jobRequest) toParams() (jobs.Params, error) {
	p := jobs.Params{
		Name:        req.Name,
		Schedule:    req.Schedule,
		Prompt:      req.Prompt,
		SkillName:   req.SkillName,
		SkillConfig: req.SkillConfig,
		Enabled:     req.Enabled,
		MaxRetries:  req.MaxRetries,
	}
	if req.RunAt != nil {
		at, err := time.Parse(time.RFC3339, *req.RunAt)
		if err != nil {
			return p, errs.Validation("run_at must be an RFC 3339 timestamp")
		}
		p.RunAt = &at
	}
	return p, nil
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid request body"))
		return
	}
	p, err := req.toParams()
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.Create(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobJSON(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	all, err := s.jobs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]jobJSON, 0, len(all))
	for i := range all {
		out = append(out, toJobJSON(&all[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.jobs.Runs(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	runsOut := make([]runJSON, 0, len(runs))
	for i := range runs {
		runsOut = append(runsOut, toRunJSON(&runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":  toJobJSON(job),
		"runs": runsOut,
	})
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("invalid request body"))
		return
	}
	p, err := req.toParams()
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.Update(r.Context(), id, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobJSON(job))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
