package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/a2abridge/internal/a2a"
)

// fakeHandler answers send with a completed task echoing the message text.
type fakeHandler struct {
	tasks map[string]*a2a.Task
	sent  []a2a.SendMessageRequest
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{tasks: map[string]*a2a.Task{}}
}

func (h *fakeHandler) HandleSendMessage(_ context.Context, req a2a.SendMessageRequest) (*a2a.Task, error) {
	h.sent = append(h.sent, req)
	id := req.Message.TaskID
	if id == "" {
		id = "task-1"
	}
	reply := a2a.NewAgentTextMessage("found: "+req.Message.Text(), req.Message.ContextID, id)
	task := &a2a.Task{
		ID:        id,
		ContextID: req.Message.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateCompleted},
		History:   []a2a.Message{req.Message, reply},
	}
	h.tasks[id] = task
	return task, nil
}

func (h *fakeHandler) HandleStreamMessage(context.Context, a2a.SendMessageRequest) (<-chan a2a.StreamEvent, error) {
	return nil, fmt.Errorf("not supported")
}

func (h *fakeHandler) HandleGetTask(_ context.Context, req a2a.GetTaskRequest) (*a2a.Task, error) {
	task, ok := h.tasks[req.ID]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", req.ID, a2a.ErrTaskNotFound)
	}
	return task, nil
}

func (h *fakeHandler) HandleListTasks(context.Context, a2a.ListTasksRequest) (*a2a.ListTasksResponse, error) {
	return &a2a.ListTasksResponse{}, nil
}

func (h *fakeHandler) HandleCancelTask(_ context.Context, req a2a.CancelTaskRequest) (*a2a.Task, error) {
	task, ok := h.tasks[req.ID]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", req.ID, a2a.ErrTaskNotFound)
	}
	if task.Status.State.IsTerminal() {
		return nil, fmt.Errorf("task %q: %w", req.ID, a2a.ErrTaskNotCancelable)
	}
	task.Status.State = a2a.TaskStateCanceled
	return task, nil
}

func setupBridge(t *testing.T, h a2a.Handler) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	card := a2a.AgentCard{Name: "Notion Search Agent", Description: "Searches Notion."}
	server := NewBridgeMCPServer(card, h)

	st, ct := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func decodeTaskOutput(t *testing.T, res *mcp.CallToolResult) TaskOutput {
	t.Helper()
	require.NotNil(t, res.StructuredContent)
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out TaskOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestBridgeListTools(t *testing.T) {
	session := setupBridge(t, newFakeHandler())

	res, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"send_message", "get_task", "cancel_task"}, names)
}

func TestBridgeSendMessage(t *testing.T) {
	h := newFakeHandler()
	session := setupBridge(t, h)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "send_message",
		Arguments: SendMessageInput{Text: "roadmap", ContextID: "ctx-1"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decodeTaskOutput(t, res)
	assert.Equal(t, "task-1", out.TaskID)
	assert.Equal(t, "ctx-1", out.ContextID)
	assert.Equal(t, "completed", out.State)
	assert.Equal(t, "found: roadmap", out.Reply)
	assert.False(t, out.Failed)

	require.Len(t, h.sent, 1)
	assert.Equal(t, a2a.RoleUser, h.sent[0].Message.Role)
	assert.NotEmpty(t, h.sent[0].Message.MessageID)
}

func TestBridgeSendMessageRequiresText(t *testing.T) {
	session := setupBridge(t, newFakeHandler())

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "send_message",
		Arguments: map[string]any{"text": ""},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestBridgeGetTask(t *testing.T) {
	h := newFakeHandler()
	session := setupBridge(t, h)
	ctx := context.Background()

	_, err := h.HandleSendMessage(ctx, a2a.SendMessageRequest{
		Message: a2a.Message{TaskID: "t-9", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("q")}},
	})
	require.NoError(t, err)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_task",
		Arguments: TaskInput{TaskID: "t-9"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	out := decodeTaskOutput(t, res)
	assert.Equal(t, "t-9", out.TaskID)
	assert.Equal(t, "found: q", out.Reply)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_task",
		Arguments: TaskInput{TaskID: "missing"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestBridgeCancelTask(t *testing.T) {
	h := newFakeHandler()
	h.tasks["running"] = &a2a.Task{ID: "running", Status: a2a.TaskStatus{State: a2a.TaskStateWorking}}
	h.tasks["done"] = &a2a.Task{ID: "done", Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}}
	session := setupBridge(t, h)
	ctx := context.Background()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "cancel_task",
		Arguments: TaskInput{TaskID: "running"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "canceled", decodeTaskOutput(t, res).State)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "cancel_task",
		Arguments: TaskInput{TaskID: "done"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestBridgeOverHTTP(t *testing.T) {
	h := newFakeHandler()
	server := NewBridgeMCPServer(a2a.AgentCard{Name: "agent"}, h)
	ts := httptest.NewServer(NewHTTPHandler(server))
	defer ts.Close()

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL}, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "send_message",
		Arguments: SendMessageInput{Text: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "found: hello", decodeTaskOutput(t, res).Reply)
}

func TestSummarize(t *testing.T) {
	failed := a2a.WithOutcome(a2a.NewAgentTextMessage("Error searching Notion workspace: boom", "c", "t"), a2a.OutcomeFailed)
	out := summarize(&a2a.Task{
		ID:     "t",
		Status: a2a.TaskStatus{State: a2a.TaskStateFailed, Message: &failed},
	})
	assert.True(t, out.Failed)
	assert.Equal(t, "Error searching Notion workspace: boom", out.Reply)

	out = summarize(&a2a.Task{ID: "t", Status: a2a.TaskStatus{State: a2a.TaskStateSubmitted}})
	assert.Empty(t, out.Reply)
	assert.False(t, out.Failed)
}
