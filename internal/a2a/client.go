package a2a

import "context"

// Client talks to remote A2A agents. Every call names the agent's base URL.
type Client interface {
	DiscoverAgent(ctx context.Context, baseURL string) (*AgentCard, error)

	// SendMessage blocks until the agent has answered and returns the task.
	SendMessage(ctx context.Context, endpoint string, req SendMessageRequest) (*Task, error)

	// StreamMessage returns the task's events; the channel closes after the
	// final status update or on the first error.
	StreamMessage(ctx context.Context, endpoint string, req SendMessageRequest) (<-chan StreamEvent, error)

	GetTask(ctx context.Context, endpoint string, req GetTaskRequest) (*Task, error)
	ListTasks(ctx context.Context, endpoint string, req ListTasksRequest) (*ListTasksResponse, error)
	CancelTask(ctx context.Context, endpoint string, req CancelTaskRequest) (*Task, error)
}
