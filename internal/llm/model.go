// Package llm adapts hosted language models to the session content model
// used by the agent runtime.
package llm

import (
	"context"
	"encoding/json"

	"github.com/dusk-indust/a2abridge/internal/session"
)

// ToolDecl describes a callable tool to the model. Parameters is a JSON
// Schema object.
type ToolDecl struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one generation step: the system instruction, the conversation
// so far and the tools the model may call.
type Request struct {
	Instruction string
	History     []session.Content
	Tools       []ToolDecl
}

// Model generates the next model turn for a conversation.
type Model interface {
	// Name returns the provider-specific model identifier.
	Name() string

	// Generate returns a model-role Content holding text and/or function
	// calls.
	Generate(ctx context.Context, req Request) (*session.Content, error)
}

// defaultMaxTokens caps a single response for providers that require it.
const defaultMaxTokens = 4096

// responseJSON renders a function response payload for providers that take
// tool results as text.
func responseJSON(resp *session.FunctionResponse) string {
	data, err := json.Marshal(resp.Response)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// isErrorResponse reports whether a function response carries an "error"
// key, the convention the runtime uses for failed tool calls.
func isErrorResponse(resp *session.FunctionResponse) bool {
	_, ok := resp.Response["error"]
	return ok
}

// objectSchema returns params, or an empty object schema when params is nil.
func objectSchema(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return params
}
