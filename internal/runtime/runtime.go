// Package runtime drives agent runs: it feeds a user message through a
// model, executes the tools the model calls and reports every turn as an
// Event.
package runtime

import (
	"context"

	"github.com/dusk-indust/a2abridge/internal/llm"
	"github.com/dusk-indust/a2abridge/internal/session"
)

// Event is one item of a run's output stream.
type Event struct {
	ID      string
	Author  string
	Content *session.Content

	// Partial marks streamed fragments that a later event completes.
	Partial bool

	// Err is set on the last event of a run that failed.
	Err error
}

// IsFinalResponse reports whether the event can end a turn: it is complete
// and carries neither a function call nor a function response.
func (e Event) IsFinalResponse() bool {
	if e.Err != nil || e.Partial {
		return false
	}
	return len(e.Content.FunctionCalls()) == 0 && !e.Content.HasFunctionResponse()
}

// Runner executes agent runs against sessions of one app.
type Runner interface {
	// AppName is the app component of the session keys the runner uses.
	AppName() string

	// Run processes msg in the given session and streams the resulting
	// events. The channel is closed when the run ends or ctx is done; the
	// session must exist before Run is called.
	Run(ctx context.Context, userID, sessionID string, msg *session.Content) <-chan Event
}

// Toolset is a source of tools the model may call.
type Toolset interface {
	// Tools lists the available tool declarations.
	Tools(ctx context.Context) ([]llm.ToolDecl, error)

	// Call invokes a tool and returns its result payload. A tool-reported
	// failure is returned as an error.
	Call(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}
