package a2a

import (
	"context"
	"log/slog"
	"net/http"
)

// Handler processes incoming A2A requests for an agent.
type Handler interface {
	// HandleSendMessage processes an incoming message and returns the task
	// once the agent has answered.
	HandleSendMessage(ctx context.Context, req SendMessageRequest) (*Task, error)

	// HandleStreamMessage processes an incoming message and streams the
	// task's events. The channel is closed after the final event.
	HandleStreamMessage(ctx context.Context, req SendMessageRequest) (<-chan StreamEvent, error)

	// HandleGetTask returns the current state of a task.
	HandleGetTask(ctx context.Context, req GetTaskRequest) (*Task, error)

	// HandleListTasks returns tasks matching the filter.
	HandleListTasks(ctx context.Context, req ListTasksRequest) (*ListTasksResponse, error)

	// HandleCancelTask cancels a running task.
	HandleCancelTask(ctx context.Context, req CancelTaskRequest) (*Task, error)
}

// Server is the HTTP server that exposes an A2A agent.
type Server struct {
	card    AgentCard
	handler Handler
	logger  *slog.Logger
	http    *http.Server
}

// NewServer creates an A2A server for the given agent. A nil logger uses
// slog.Default.
func NewServer(card AgentCard, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		card:    card,
		handler: handler,
		logger:  logger,
	}
}

// Card returns the agent card the server publishes.
func (s *Server) Card() AgentCard {
	return s.card
}
