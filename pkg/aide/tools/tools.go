// Package tools implements the typed tool set the model can invoke
// mid-stream, and the registry that dispatches calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/aide/pkg/aide/llm"
)

// Tool is one named, described callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON-schema contract for the arguments object.
	Parameters() json.RawMessage
	// Execute runs the tool. Returned errors are converted to
	// human-readable strings by the registry; they never cross the
	// boundary to the model as errors.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the registered tools in registration order.
type Registry struct {
	tools  []Tool
	byName map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds tools to the registry.
func (r *Registry) Register(tools ...Tool) {
	for _, t := range tools {
		if _, dup := r.byName[t.Name()]; dup {
			continue
		}
		r.tools = append(r.tools, t)
		r.byName[t.Name()] = t
	}
}

// Definitions returns the OpenAI-compatible tool definitions.
func (r *Registry) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}

// Execute dispatches one tool call. The result is always a string the
// model can read; failures become failure prose.
func (r *Registry) Execute(ctx context.Context, callID, name, arguments string) string {
	start := time.Now()
	tool, ok := r.byName[name]
	if !ok {
		r.logger.Warn("unknown tool requested", "call_id", callID, "tool", name)
		return fmt.Sprintf("Unknown tool: %s", name)
	}

	if arguments == "" {
		arguments = "{}"
	}
	out, err := tool.Execute(ctx, json.RawMessage(arguments))
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Warn("tool call failed",
			"call_id", callID, "tool", name, "elapsed_ms", elapsed.Milliseconds(), "error", err)
		return fmt.Sprintf("The %s tool failed: %v", name, err)
	}

	r.logger.Info("tool call done",
		"call_id", callID, "tool", name, "elapsed_ms", elapsed.Milliseconds())
	return out
}

// schema is a shorthand for inline JSON-schema literals.
func schema(s string) json.RawMessage {
	return json.RawMessage(s)
}
