package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dusk-indust/a2abridge/internal/llm"
	"github.com/dusk-indust/a2abridge/internal/session"
)

// DefaultMaxSteps bounds the model calls of a single run.
const DefaultMaxSteps = 10

// Compile-time interface check.
var _ Runner = (*LLMRunner)(nil)

// LLMRunner is a Runner that loops model generation and tool execution
// until the model answers without calling a tool.
type LLMRunner struct {
	appName     string
	model       llm.Model
	store       session.Store
	instruction string
	tools       Toolset
	maxSteps    int
	logger      *slog.Logger
}

// Option configures an LLMRunner.
type Option func(*LLMRunner)

// WithInstruction sets the system instruction sent with every request.
func WithInstruction(instruction string) Option {
	return func(r *LLMRunner) { r.instruction = instruction }
}

// WithToolset makes the tools of ts available to the model.
func WithToolset(ts Toolset) Option {
	return func(r *LLMRunner) { r.tools = ts }
}

// WithMaxSteps overrides DefaultMaxSteps. Non-positive values are ignored.
func WithMaxSteps(n int) Option {
	return func(r *LLMRunner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *LLMRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewLLMRunner creates a runner for appName whose history lives in store.
func NewLLMRunner(appName string, model llm.Model, store session.Store, opts ...Option) *LLMRunner {
	r := &LLMRunner{
		appName:  appName,
		model:    model,
		store:    store,
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *LLMRunner) AppName() string { return r.appName }

func (r *LLMRunner) Run(ctx context.Context, userID, sessionID string, msg *session.Content) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		if err := r.run(ctx, userID, sessionID, msg, ch); err != nil {
			emit(ctx, ch, Event{ID: uuid.NewString(), Author: r.appName, Err: err})
		}
	}()
	return ch
}

func (r *LLMRunner) run(ctx context.Context, userID, sessionID string, msg *session.Content, ch chan<- Event) error {
	key := session.Key{AppName: r.appName, UserID: userID, SessionID: sessionID}
	log := r.logger.With("session", key.String())

	sess, err := r.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if msg == nil {
		return fmt.Errorf("run %s: no message", key)
	}
	turn := *msg
	if turn.Role == "" {
		turn.Role = session.RoleUser
	}
	history := append(sess.History, turn)
	if err := r.store.Append(ctx, key, turn); err != nil {
		return fmt.Errorf("record user message: %w", err)
	}

	var decls []llm.ToolDecl
	if r.tools != nil {
		decls, err = r.tools.Tools(ctx)
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
	}

	for step := 1; step <= r.maxSteps; step++ {
		reply, err := r.model.Generate(ctx, llm.Request{
			Instruction: r.instruction,
			History:     history,
			Tools:       decls,
		})
		if err != nil {
			return fmt.Errorf("generate (step %d): %w", step, err)
		}
		reply.Role = session.RoleModel

		history = append(history, *reply)
		if err := r.store.Append(ctx, key, *reply); err != nil {
			return fmt.Errorf("record model turn: %w", err)
		}
		if !emit(ctx, ch, Event{ID: uuid.NewString(), Author: r.appName, Content: reply}) {
			return ctx.Err()
		}

		calls := reply.FunctionCalls()
		if len(calls) == 0 {
			return nil
		}

		results := session.Content{Role: session.RoleUser}
		for _, call := range calls {
			log.Debug("calling tool", "tool", call.Name, "step", step)
			results.Parts = append(results.Parts, session.Part{
				FunctionResponse: r.callTool(ctx, call),
			})
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		history = append(history, results)
		if err := r.store.Append(ctx, key, results); err != nil {
			return fmt.Errorf("record tool results: %w", err)
		}
		if !emit(ctx, ch, Event{ID: uuid.NewString(), Author: r.appName, Content: &results}) {
			return ctx.Err()
		}
	}

	log.Warn("run stopped at step limit", "max_steps", r.maxSteps)
	return nil
}

// callTool runs one function call. Failures are reported to the model as an
// "error" payload rather than ending the run.
func (r *LLMRunner) callTool(ctx context.Context, call session.FunctionCall) *session.FunctionResponse {
	resp := &session.FunctionResponse{ID: call.ID, Name: call.Name}
	if r.tools == nil {
		resp.Response = map[string]any{"error": fmt.Sprintf("tool %q is not available", call.Name)}
		return resp
	}

	out, err := r.tools.Call(ctx, call.Name, call.Args)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		resp.Response = map[string]any{"error": err.Error()}
		return resp
	}
	resp.Response = out
	return resp
}

// emit sends ev unless ctx is done first.
func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
