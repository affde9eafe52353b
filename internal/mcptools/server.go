package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/a2abridge/internal/a2a"
)

// version is set by the linker at build time.
var version = "dev"

// NewBridgeMCPServer creates an MCP server that exposes the agent described by
// card through the send_message, get_task and cancel_task tools.
func NewBridgeMCPServer(card a2a.AgentCard, handler a2a.Handler) *mcp.Server {
	svc := NewBridgeService(handler)

	name := card.Name
	if name == "" {
		name = "a2abridge"
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a message to the agent and wait for its reply. " + card.Description,
	}, svc.SendMessage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_task",
		Description: "Get the state and latest reply of a task.",
	}, svc.GetTask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_task",
		Description: "Cancel a task that has not reached a terminal state.",
	}, svc.CancelTask)

	return server
}

// RunStdio runs server on stdio, blocking until stdin is closed or ctx is
// cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// NewHTTPHandler returns a streamable HTTP handler serving server.
func NewHTTPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)
}

// RunHTTP serves server over streamable HTTP on addr until ctx is cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: NewHTTPHandler(server),
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
