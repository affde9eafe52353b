package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// AgentExecutor runs the agent logic behind an A2A server. Implementations
// report results by publishing events on the queue rather than returning
// them.
type AgentExecutor interface {
	// Execute handles one incoming message for the task in reqCtx.
	Execute(ctx context.Context, reqCtx *RequestContext, queue *EventQueue) error

	// Cancel announces cancellation of the task in reqCtx.
	Cancel(ctx context.Context, reqCtx *RequestContext, queue *EventQueue) error
}

// RequestContext carries the identity and input of a single request. TaskID
// and ContextID may be empty.
type RequestContext struct {
	TaskID    string
	ContextID string
	Message   *Message
}

// UserInput returns the text of the request message, or "" when there is no
// message.
func (rc *RequestContext) UserInput() string {
	if rc == nil || rc.Message == nil {
		return ""
	}
	return rc.Message.Text()
}

// NewAgentTextMessage builds an agent-role message with a single text part.
func NewAgentTextMessage(text, contextID, taskID string) Message {
	return Message{
		MessageID: uuid.NewString(),
		ContextID: contextID,
		TaskID:    taskID,
		Role:      RoleAgent,
		Parts:     []Part{TextPart(text)},
	}
}

// WithOutcome returns a copy of m whose metadata records the given outcome.
func WithOutcome(m Message, outcome string) Message {
	meta, _ := json.Marshal(map[string]string{"outcome": outcome})
	m.Metadata = meta
	return m
}

// ErrQueueClosed is returned when enqueueing onto a closed EventQueue.
var ErrQueueClosed = errors.New("a2a: event queue closed")

// defaultQueueSize bounds the events buffered before Enqueue blocks.
const defaultQueueSize = 16

// EventQueue is an ordered channel of events from an executor to the
// protocol layer. Enqueue is safe for concurrent use; the consumer reads from
// Events until it is closed.
type EventQueue struct {
	mu     sync.RWMutex
	ch     chan StreamEvent
	closed bool
}

// NewEventQueue returns an open queue that buffers up to size events. A
// non-positive size uses the default.
func NewEventQueue(size int) *EventQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &EventQueue{ch: make(chan StreamEvent, size)}
}

// Enqueue appends ev to the queue. It blocks while the buffer is full and
// gives up when ctx is done.
func (q *EventQueue) Enqueue(ctx context.Context, ev StreamEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive side of the queue. The channel is closed by
// Close.
func (q *EventQueue) Events() <-chan StreamEvent {
	return q.ch
}

// Close stops the queue. Events already buffered remain readable. Close is
// idempotent.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
