// Package skills hosts in-process, long-running, config-driven tasks
// the scheduler executes in place of a model run.
package skills

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jholhewres/aide/pkg/aide/store"
)

// Skill is one registered unit of work.
type Skill interface {
	// Name identifies the skill in job definitions.
	Name() string
	// Description is surfaced to the model via list_skills.
	Description() string
	// ConfigSchema is a JSON-schema-like description of the skill's
	// job config.
	ConfigSchema() json.RawMessage
	// Execute runs the skill to completion or cancellation.
	Execute(ctx context.Context, sc Context) (Result, error)
}

// Context is what a skill gets to work with.
type Context struct {
	Job    *store.Job
	Logger *slog.Logger
}

// Result reports how a skill run ended. Success=false fails the job
// run; DisableJob additionally flips the job off (one-shot style).
type Result struct {
	Success    bool
	Message    string
	DisableJob bool
}

// Registry maps skill names to skills.
type Registry struct {
	skills map[string]Skill
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds a skill. Re-registering a name replaces it.
func (r *Registry) Register(s Skill) {
	r.skills[s.Name()] = s
}

// Get returns the skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	s, ok := r.skills[name]
	return s, ok
}

// List returns all registered skills.
func (r *Registry) List() []Skill {
	out := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	return out
}
