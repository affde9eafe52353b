package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/a2abridge/internal/a2a"
)

// Compile-time interface checks.
var (
	_ Agent       = (*RequestHandler)(nil)
	_ a2a.Handler = (*RequestHandler)(nil)
)

// RequestHandler serves A2A requests for one agent. It keeps task state in a
// task store and turns the events published by its executor into task
// status and history.
//
// The first terminal status a task reaches is kept. A cancel also aborts the
// executor run still in flight for the task.
type RequestHandler struct {
	card     a2a.AgentCard
	executor a2a.AgentExecutor
	store    *a2a.TaskStore
	server   *a2a.Server
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[string]map[*inflight]struct{}
}

// NewRequestHandler creates a handler answering for card with executor. A
// nil logger uses slog.Default.
func NewRequestHandler(card a2a.AgentCard, executor a2a.AgentExecutor, logger *slog.Logger) *RequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &RequestHandler{
		card:     card,
		executor: executor,
		store:    a2a.NewTaskStore(),
		logger:   logger,
		now:      time.Now,
		running:  make(map[string]map[*inflight]struct{}),
	}
	h.server = a2a.NewServer(card, h, logger)
	return h
}

// Card returns the agent's A2A Agent Card.
func (h *RequestHandler) Card() a2a.AgentCard {
	return h.card
}

// Routes returns the HTTP handler of the agent's A2A server.
func (h *RequestHandler) Routes() http.Handler {
	return h.server.Routes()
}

// Start launches the agent's HTTP server on the given address.
func (h *RequestHandler) Start(ctx context.Context, addr string) error {
	return h.server.Start(ctx, addr)
}

// Stop gracefully shuts down the agent and aborts runs in flight.
func (h *RequestHandler) Stop(ctx context.Context) error {
	h.mu.Lock()
	for id, runs := range h.running {
		for r := range runs {
			r.cancel()
		}
		delete(h.running, id)
	}
	h.mu.Unlock()
	return h.server.Stop(ctx)
}

// --- a2a.Handler implementation ---

// HandleSendMessage records the message on its task, runs the executor and
// returns the task once the executor has published its reply.
func (h *RequestHandler) HandleSendMessage(ctx context.Context, req a2a.SendMessageRequest) (*a2a.Task, error) {
	msg, err := h.begin(req.Message)
	if err != nil {
		return nil, err
	}

	events := h.execute(ctx, msg)
	for ev := range events {
		if _, err := h.fold(msg.TaskID, ev); err != nil {
			for range events {
			}
			return nil, err
		}
	}
	return h.store.Get(msg.TaskID)
}

// HandleStreamMessage is HandleSendMessage with every step streamed: the
// task snapshot, each executor event, and a final status update.
func (h *RequestHandler) HandleStreamMessage(ctx context.Context, req a2a.SendMessageRequest) (<-chan a2a.StreamEvent, error) {
	msg, err := h.begin(req.Message)
	if err != nil {
		return nil, err
	}
	snapshot, err := h.store.Get(msg.TaskID)
	if err != nil {
		return nil, err
	}

	out := make(chan a2a.StreamEvent)
	go func() {
		defer close(out)
		out <- a2a.StreamEvent{Task: snapshot}

		task := snapshot
		events := h.execute(ctx, msg)
		for ev := range events {
			updated, err := h.fold(msg.TaskID, ev)
			if err != nil {
				for range events {
				}
				out <- a2a.StreamEvent{Err: err}
				return
			}
			task = updated
			if ev.StatusUpdate != nil && ev.StatusUpdate.Final {
				// The closing update below carries the settled status.
				continue
			}
			out <- ev
		}

		out <- a2a.StreamEvent{StatusUpdate: &a2a.TaskStatusUpdateEvent{
			TaskID:    task.ID,
			ContextID: task.ContextID,
			Status:    task.Status,
			Final:     true,
		}}
	}()
	return out, nil
}

// HandleGetTask retrieves a task by ID from the store.
func (h *RequestHandler) HandleGetTask(_ context.Context, req a2a.GetTaskRequest) (*a2a.Task, error) {
	task, err := h.store.Get(req.ID)
	if err != nil {
		return nil, err
	}
	if req.HistoryLength != nil && *req.HistoryLength >= 0 && len(task.History) > *req.HistoryLength {
		task.History = task.History[len(task.History)-*req.HistoryLength:]
	}
	return task, nil
}

// HandleListTasks returns tasks matching the filter.
func (h *RequestHandler) HandleListTasks(_ context.Context, req a2a.ListTasksRequest) (*a2a.ListTasksResponse, error) {
	return h.store.List(req)
}

// HandleCancelTask publishes a cancellation through the executor and aborts
// the task's run if one is in flight. Terminal tasks cannot be canceled.
func (h *RequestHandler) HandleCancelTask(ctx context.Context, req a2a.CancelTaskRequest) (*a2a.Task, error) {
	task, err := h.store.Get(req.ID)
	if err != nil {
		return nil, err
	}
	if task.Status.State.IsTerminal() {
		return nil, fmt.Errorf("task %q is %s: %w", req.ID, task.Status.State, a2a.ErrTaskNotCancelable)
	}

	queue := a2a.NewEventQueue(1)
	err = h.executor.Cancel(ctx, &a2a.RequestContext{TaskID: task.ID, ContextID: task.ContextID}, queue)
	queue.Close()
	if err != nil {
		return nil, fmt.Errorf("cancel task %q: %w", req.ID, err)
	}
	for ev := range queue.Events() {
		if _, err := h.fold(task.ID, ev); err != nil {
			return nil, err
		}
	}

	h.mu.Lock()
	for r := range h.running[task.ID] {
		r.cancel()
	}
	h.mu.Unlock()

	return h.store.Get(task.ID)
}

// begin resolves the task a message belongs to and records the message on
// it. A message without a task id starts a new task; an unknown task id
// creates a task under that id. The returned message carries the task and
// context ids.
func (h *RequestHandler) begin(msg a2a.Message) (a2a.Message, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Role == "" {
		msg.Role = a2a.RoleUser
	}

	if msg.TaskID != "" {
		existing, err := h.store.Get(msg.TaskID)
		switch {
		case err == nil:
			if msg.ContextID == "" {
				msg.ContextID = existing.ContextID
			}
			return msg, h.record(msg)
		case !errors.Is(err, a2a.ErrTaskNotFound):
			return msg, err
		}
	} else {
		msg.TaskID = a2a.NewTaskID()
	}
	if msg.ContextID == "" {
		msg.ContextID = uuid.NewString()
	}

	err := h.store.Create(a2a.Task{
		ID:        msg.TaskID,
		ContextID: msg.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: h.now().UTC()},
	})
	if err != nil {
		// A concurrent message created the task first.
		h.logger.Debug("task created concurrently", "task", msg.TaskID, "error", err)
	}
	return msg, h.record(msg)
}

// record appends msg to its task's history and marks an unfinished task as
// working.
func (h *RequestHandler) record(msg a2a.Message) error {
	_, err := h.store.Update(msg.TaskID, func(t *a2a.Task) {
		t.History = append(t.History, msg)
		if !t.Status.State.IsTerminal() {
			t.Status = a2a.TaskStatus{State: a2a.TaskStateWorking, Timestamp: h.now().UTC()}
		}
	})
	return err
}

// execute runs the executor for msg in the background and returns its
// events. The channel closes once the executor has returned. An executor
// error becomes a failed reply.
func (h *RequestHandler) execute(ctx context.Context, msg a2a.Message) <-chan a2a.StreamEvent {
	runCtx, cancel := context.WithCancel(ctx)
	r := &inflight{cancel: cancel}
	h.mu.Lock()
	if h.running[msg.TaskID] == nil {
		h.running[msg.TaskID] = make(map[*inflight]struct{})
	}
	h.running[msg.TaskID][r] = struct{}{}
	h.mu.Unlock()

	queue := a2a.NewEventQueue(0)
	done := make(chan error, 1)
	out := make(chan a2a.StreamEvent)

	go func() {
		reqCtx := &a2a.RequestContext{TaskID: msg.TaskID, ContextID: msg.ContextID, Message: &msg}
		err := h.executor.Execute(runCtx, reqCtx, queue)
		queue.Close()
		done <- err
	}()

	go func() {
		defer close(out)
		defer h.release(msg.TaskID, r)
		for ev := range queue.Events() {
			out <- ev
		}
		if err := <-done; err != nil {
			h.logger.Error("executor failed", "task", msg.TaskID, "error", err)
			reply := a2a.WithOutcome(a2a.NewAgentTextMessage(err.Error(), msg.ContextID, msg.TaskID), a2a.OutcomeFailed)
			out <- a2a.StreamEvent{Message: &reply}
		}
	}()
	return out
}

// inflight is the registration of one executor run in flight.
type inflight struct {
	cancel context.CancelFunc
}

// release cancels r and drops its registration.
func (h *RequestHandler) release(taskID string, r *inflight) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r.cancel()
	delete(h.running[taskID], r)
	if len(h.running[taskID]) == 0 {
		delete(h.running, taskID)
	}
}

// fold applies one executor event to the stored task.
func (h *RequestHandler) fold(taskID string, ev a2a.StreamEvent) (*a2a.Task, error) {
	return h.store.Update(taskID, func(t *a2a.Task) {
		switch {
		case ev.Message != nil:
			m := *ev.Message
			t.History = append(t.History, m)
			if t.Status.State.IsTerminal() {
				return
			}
			state := a2a.TaskStateCompleted
			if m.Outcome() == a2a.OutcomeFailed {
				state = a2a.TaskStateFailed
			}
			t.Status = a2a.TaskStatus{State: state, Message: &m, Timestamp: h.now().UTC()}

		case ev.StatusUpdate != nil:
			if t.Status.State.IsTerminal() {
				return
			}
			t.Status = ev.StatusUpdate.Status

		case ev.ArtifactUpdate != nil:
			t.Artifacts = append(t.Artifacts, ev.ArtifactUpdate.Artifact)
		}
	})
}
