package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer answers every JSON-RPC request with fn's response.
func rpcServer(t *testing.T, fn func(req JSONRPCRequest) JSONRPCResponse) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fn(req))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHTTPClient_SendMessage(t *testing.T) {
	ts := rpcServer(t, func(req JSONRPCRequest) JSONRPCResponse {
		assert.Equal(t, JSONRPCVersion, req.JSONRPC)
		assert.Equal(t, MethodSendMessage, req.Method)
		assert.NotNil(t, req.ID)

		var params SendMessageRequest
		assert.NoError(t, json.Unmarshal(req.Params, &params))
		assert.Equal(t, "make it speak", params.Message.Text())

		return JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Result: mustRaw(t, Task{
			ID:     "t1",
			Status: TaskStatus{State: TaskStateCompleted},
		})}
	})

	c := NewHTTPClient()
	task, err := c.SendMessage(context.Background(), ts.URL, SendMessageRequest{
		Message: Message{MessageID: "m", Role: RoleUser, Parts: []Part{TextPart("make it speak")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, TaskStateCompleted, task.Status.State)
}

func TestHTTPClient_RequestIDsIncrease(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []float64
	)
	ts := rpcServer(t, func(req JSONRPCRequest) JSONRPCResponse {
		mu.Lock()
		ids = append(ids, req.ID.(float64))
		mu.Unlock()
		return JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Result: mustRaw(t, Task{ID: "x"})}
	})

	c := NewHTTPClient()
	for i := 0; i < 3; i++ {
		_, err := c.GetTask(context.Background(), ts.URL, GetTaskRequest{ID: "x"})
		require.NoError(t, err)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1, 2, 3}, ids)
}

func TestHTTPClient_ListAndCancel(t *testing.T) {
	ts := rpcServer(t, func(req JSONRPCRequest) JSONRPCResponse {
		switch req.Method {
		case MethodListTasks:
			return JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Result: mustRaw(t, ListTasksResponse{
				Tasks: []Task{{ID: "a"}}, TotalSize: 1,
			})}
		case MethodCancelTask:
			return JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Result: mustRaw(t, Task{
				ID: "a", Status: TaskStatus{State: TaskStateCanceled},
			})}
		}
		return JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &JSONRPCError{Code: ErrCodeMethodNotFound}}
	})

	c := NewHTTPClient()
	list, err := c.ListTasks(context.Background(), ts.URL, ListTasksRequest{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalSize)

	task, err := c.CancelTask(context.Background(), ts.URL, CancelTaskRequest{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, TaskStateCanceled, task.Status.State)
}

func TestHTTPClient_RPCErrorMatchesSentinels(t *testing.T) {
	ts := rpcServer(t, func(req JSONRPCRequest) JSONRPCResponse {
		code := ErrCodeTaskNotFound
		if req.Method == MethodCancelTask {
			code = ErrCodeTaskNotCancelable
		}
		return JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &JSONRPCError{
			Code:    code,
			Message: "nope",
			Data:    json.RawMessage(`{"id":"t"}`),
		}}
	})

	c := NewHTTPClient()
	_, err := c.GetTask(context.Background(), ts.URL, GetTaskRequest{ID: "t"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.NotErrorIs(t, err, ErrTaskNotCancelable)
	assert.Contains(t, err.Error(), "tasks/get")
	assert.Contains(t, err.Error(), `{"id":"t"}`)

	_, err = c.CancelTask(context.Background(), ts.URL, CancelTaskRequest{ID: "t"})
	assert.ErrorIs(t, err, ErrTaskNotCancelable)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, ErrCodeTaskNotCancelable, rpcErr.Code)
}

func TestHTTPClient_Non200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewHTTPClient().SendMessage(context.Background(), ts.URL, SendMessageRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")

	var rpcErr *RPCError
	assert.False(t, errors.As(err, &rpcErr))

	_, err = NewHTTPClient().StreamMessage(context.Background(), ts.URL, SendMessageRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestHTTPClient_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	c := NewHTTPClient(WithTimeout(50 * time.Millisecond))
	_, err := c.GetTask(context.Background(), ts.URL, GetTaskRequest{ID: "slow"})
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = NewHTTPClient().GetTask(ctx, ts.URL, GetTaskRequest{ID: "slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPClient_WithHTTPClient(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c := NewHTTPClient(WithHTTPClient(hc))
	assert.Same(t, hc, c.http)
}

func TestHTTPClient_StreamMessage(t *testing.T) {
	srv := NewServer(testCard(), &stubHandler{
		stream: func(_ context.Context, req SendMessageRequest) (<-chan StreamEvent, error) {
			ch := make(chan StreamEvent, 3)
			for i := 1; i <= 3; i++ {
				msg := NewAgentTextMessage(fmt.Sprintf("chunk %d", i), "", "")
				ch <- StreamEvent{Message: &msg}
			}
			close(ch)
			return ch, nil
		},
	}, quietLogger())
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	events, err := NewHTTPClient().StreamMessage(context.Background(), ts.URL, SendMessageRequest{})
	require.NoError(t, err)

	var texts []string
	for ev := range events {
		require.NoError(t, ev.Err)
		texts = append(texts, ev.Message.Text())
	}
	assert.Equal(t, []string{"chunk 1", "chunk 2", "chunk 3"}, texts)
}

func TestHTTPClient_StreamMessageRejected(t *testing.T) {
	ts := rpcServer(t, func(req JSONRPCRequest) JSONRPCResponse {
		return JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &JSONRPCError{
			Code: ErrCodeTaskNotFound, Message: "no such task",
		}}
	})

	events, err := NewHTTPClient().StreamMessage(context.Background(), ts.URL, SendMessageRequest{})
	assert.Nil(t, events)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestHTTPClient_DiscoverAgent(t *testing.T) {
	srv := NewServer(testCard(), &stubHandler{}, quietLogger())
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	c := NewHTTPClient()
	for _, base := range []string{ts.URL, ts.URL + "/"} {
		card, err := c.DiscoverAgent(context.Background(), base)
		require.NoError(t, err)
		assert.Equal(t, "Notion Search Agent", card.Name)
		assert.Equal(t, "1.0.0", card.Version)
	}
}

func TestHTTPClient_DiscoverAgentMissing(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := NewHTTPClient().DiscoverAgent(context.Background(), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}
