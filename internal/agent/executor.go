package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/a2abridge/internal/a2a"
	"github.com/dusk-indust/a2abridge/internal/runtime"
	"github.com/dusk-indust/a2abridge/internal/session"
)

// Defaults used by NewExecutor.
const (
	DefaultUserID        = "a2a_user_notion"
	DefaultFallbackQuery = "Search for recent pages"
	DefaultNoResultsText = "(No search results found)"
	DefaultErrorPrefix   = "Error searching Notion workspace: "

	UnknownTaskID    = "unknown_task"
	UnknownContextID = "unknown_context"
)

// ErrRunTimeout is reported when a run exceeds the executor's run timeout.
var ErrRunTimeout = errors.New("agent run timed out")

var _ a2a.AgentExecutor = (*Executor)(nil)

// Executor bridges A2A requests onto agent runtime sessions. Each Execute
// publishes exactly one agent message; each Cancel publishes exactly one
// canceled status update.
//
// Cancel does not interrupt an Execute in flight for the same task, so a
// task may see both a canceled status and a later message.
type Executor struct {
	runner runtime.Runner
	store  session.Store
	logger *slog.Logger
	now    func() time.Time

	userID        string
	fallbackQuery string
	noResultsText string
	errorPrefix   string
	runTimeout    time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithUserID sets the synthetic user every session is created under.
func WithUserID(id string) ExecutorOption {
	return func(e *Executor) { e.userID = id }
}

// WithFallbackQuery sets the text sent to the runtime when the request has
// no text.
func WithFallbackQuery(q string) ExecutorOption {
	return func(e *Executor) { e.fallbackQuery = q }
}

// WithNoResultsText sets the reply used when the run ends without a final
// text response.
func WithNoResultsText(s string) ExecutorOption {
	return func(e *Executor) { e.noResultsText = s }
}

// WithErrorPrefix sets the prefix of failure replies.
func WithErrorPrefix(p string) ExecutorOption {
	return func(e *Executor) { e.errorPrefix = p }
}

// WithRunTimeout bounds each run. Zero disables the bound.
func WithRunTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.runTimeout = d }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now for status timestamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor returns an Executor driving runner over sessions in store.
// Sessions are keyed by runner.AppName().
func NewExecutor(runner runtime.Runner, store session.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		runner:        runner,
		store:         store,
		logger:        slog.Default(),
		now:           time.Now,
		userID:        DefaultUserID,
		fallbackQuery: DefaultFallbackQuery,
		noResultsText: DefaultNoResultsText,
		errorPrefix:   DefaultErrorPrefix,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs the request's text through the agent runtime and publishes
// the reply on queue. Failures become a reply carrying the error prefix and a
// failed outcome. The returned error is non-nil only if publishing fails.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2a.RequestContext, queue *a2a.EventQueue) error {
	var taskID, contextID string
	if reqCtx != nil {
		taskID, contextID = reqCtx.TaskID, reqCtx.ContextID
	}
	log := e.logger.With("task", taskID, "context", contextID)

	query := reqCtx.UserInput()
	if query == "" {
		query = e.fallbackQuery
	}

	var msg a2a.Message
	text, err := e.run(ctx, log, taskID, query)
	if err != nil {
		log.Error("agent run failed", "err", err)
		msg = a2a.WithOutcome(a2a.NewAgentTextMessage(e.errorPrefix+err.Error(), contextID, taskID), a2a.OutcomeFailed)
	} else {
		msg = a2a.NewAgentTextMessage(text, contextID, taskID)
	}

	if err := queue.Enqueue(context.WithoutCancel(ctx), a2a.StreamEvent{Message: &msg}); err != nil {
		return fmt.Errorf("publish reply for task %q: %w", taskID, err)
	}
	return nil
}

// run ensures the session exists, drives one runtime run and selects the
// reply text.
func (e *Executor) run(ctx context.Context, log *slog.Logger, taskID, query string) (string, error) {
	sessionID := taskID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	key := session.Key{AppName: e.runner.AppName(), UserID: e.userID, SessionID: sessionID}

	if _, err := session.GetOrCreate(ctx, e.store, key); err != nil {
		return "", fmt.Errorf("session %s: %w", key, err)
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if e.runTimeout > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, e.runTimeout, ErrRunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	events := e.runner.Run(runCtx, e.userID, sessionID, session.NewTextContent(session.RoleUser, query))
	for ev := range events {
		if ev.Err != nil {
			return "", e.stopCause(runCtx, ev.Err)
		}
		if !ev.IsFinalResponse() {
			continue
		}
		if ev.Content == nil || ev.Content.Role != session.RoleModel || ev.Content.FirstText() == "" {
			log.Warn("final event without text", "event", ev.ID, "author", ev.Author)
			continue
		}
		return ev.Content.FirstText(), nil
	}

	// The runner closes its stream early when runCtx is done.
	if err := runCtx.Err(); err != nil {
		return "", e.stopCause(runCtx, err)
	}
	return e.noResultsText, nil
}

// stopCause replaces err with a timeout error when the run deadline is what
// ended the run.
func (e *Executor) stopCause(runCtx context.Context, err error) error {
	if runCtx.Err() != nil && errors.Is(context.Cause(runCtx), ErrRunTimeout) {
		return fmt.Errorf("%w after %s", ErrRunTimeout, e.runTimeout)
	}
	return err
}

// Cancel publishes a canceled status for the request's task. It does not
// touch the runtime.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2a.RequestContext, queue *a2a.EventQueue) error {
	taskID, contextID := UnknownTaskID, UnknownContextID
	if reqCtx != nil {
		if reqCtx.TaskID != "" {
			taskID = reqCtx.TaskID
		}
		if reqCtx.ContextID != "" {
			contextID = reqCtx.ContextID
		}
	}

	ev := a2a.StreamEvent{StatusUpdate: &a2a.TaskStatusUpdateEvent{
		TaskID:    taskID,
		ContextID: contextID,
		Status: a2a.TaskStatus{
			State:     a2a.TaskStateCanceled,
			Timestamp: e.now().UTC(),
		},
		Final: true,
	}}
	if err := queue.Enqueue(context.WithoutCancel(ctx), ev); err != nil {
		return fmt.Errorf("publish cancel for task %q: %w", taskID, err)
	}
	e.logger.Info("task canceled", "task", taskID, "context", contextID)
	return nil
}
