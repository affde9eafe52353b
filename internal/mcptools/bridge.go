package mcptools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/a2abridge/internal/a2a"
)

// SendMessageInput is the input for the send_message MCP tool.
type SendMessageInput struct {
	Text      string `json:"text" jsonschema:"message text to send to the agent"`
	TaskID    string `json:"taskId,omitempty" jsonschema:"existing task to continue (default: new task)"`
	ContextID string `json:"contextId,omitempty" jsonschema:"conversation context id"`
}

// TaskInput names a task for the get_task and cancel_task MCP tools.
type TaskInput struct {
	TaskID string `json:"taskId" jsonschema:"task id"`
}

// TaskOutput summarizes a task for MCP clients.
type TaskOutput struct {
	TaskID    string `json:"taskId"`
	ContextID string `json:"contextId"`
	State     string `json:"state"`
	Reply     string `json:"reply,omitempty"`
	Failed    bool   `json:"failed"`
}

// BridgeService answers MCP tool calls by forwarding them to an A2A handler.
type BridgeService struct {
	handler a2a.Handler
}

// NewBridgeService wraps handler.
func NewBridgeService(handler a2a.Handler) *BridgeService {
	return &BridgeService{handler: handler}
}

// SendMessage sends the input text as a user message and waits for the
// agent's answer.
func (s *BridgeService) SendMessage(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SendMessageInput,
) (*mcp.CallToolResult, TaskOutput, error) {
	if input.Text == "" {
		return nil, TaskOutput{}, fmt.Errorf("text is required")
	}
	task, err := s.handler.HandleSendMessage(ctx, a2a.SendMessageRequest{
		Message: a2a.Message{
			MessageID: uuid.NewString(),
			TaskID:    input.TaskID,
			ContextID: input.ContextID,
			Role:      a2a.RoleUser,
			Parts:     []a2a.Part{a2a.TextPart(input.Text)},
		},
		Configuration: &a2a.SendMessageConfig{Blocking: true},
	})
	if err != nil {
		return nil, TaskOutput{}, err
	}
	return nil, summarize(task), nil
}

// GetTask reports the current state of a task.
func (s *BridgeService) GetTask(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input TaskInput,
) (*mcp.CallToolResult, TaskOutput, error) {
	if input.TaskID == "" {
		return nil, TaskOutput{}, fmt.Errorf("taskId is required")
	}
	task, err := s.handler.HandleGetTask(ctx, a2a.GetTaskRequest{ID: input.TaskID})
	if err != nil {
		return nil, TaskOutput{}, err
	}
	return nil, summarize(task), nil
}

// CancelTask cancels a task that has not finished yet.
func (s *BridgeService) CancelTask(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input TaskInput,
) (*mcp.CallToolResult, TaskOutput, error) {
	if input.TaskID == "" {
		return nil, TaskOutput{}, fmt.Errorf("taskId is required")
	}
	task, err := s.handler.HandleCancelTask(ctx, a2a.CancelTaskRequest{ID: input.TaskID})
	if err != nil {
		return nil, TaskOutput{}, err
	}
	return nil, summarize(task), nil
}

// summarize reduces a task to its state and the last agent reply.
func summarize(task *a2a.Task) TaskOutput {
	out := TaskOutput{
		TaskID:    task.ID,
		ContextID: task.ContextID,
		State:     string(task.Status.State),
		Failed:    task.Status.State == a2a.TaskStateFailed,
	}
	if msg := task.Status.Message; msg != nil && msg.Role == a2a.RoleAgent {
		out.Reply = msg.Text()
		return out
	}
	for i := len(task.History) - 1; i >= 0; i-- {
		if task.History[i].Role == a2a.RoleAgent {
			out.Reply = task.History[i].Text()
			break
		}
	}
	return out
}
