package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/a2abridge/internal/llm"
	"github.com/dusk-indust/a2abridge/internal/runtime"
)

// ServerSpec describes an MCP server launched as a subprocess.
type ServerSpec struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Toolset exposes the tools of a single MCP server to the agent runtime.
type Toolset struct {
	name    string
	session *mcp.ClientSession
	logger  *slog.Logger

	mu    sync.Mutex
	tools []llm.ToolDecl
}

var _ runtime.Toolset = (*Toolset)(nil)

// Launch starts the server described by spec and connects to it over stdio.
// The subprocess inherits the current environment plus spec.Env.
func Launch(ctx context.Context, spec ServerSpec, logger *slog.Logger) (*Toolset, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("mcp server %q: no command", spec.Name)
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+spec.Env[k])
	}
	cmd.Stderr = os.Stderr

	return Connect(ctx, spec.Name, &mcp.CommandTransport{Command: cmd}, logger)
}

// Connect opens a client session to an MCP server over transport.
func Connect(ctx context.Context, name string, transport mcp.Transport, logger *slog.Logger) (*Toolset, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "a2abridge", Version: version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to mcp server %q: %w", name, err)
	}
	return &Toolset{name: name, session: session, logger: logger}, nil
}

// Name returns the server name the toolset was created with.
func (t *Toolset) Name() string {
	return t.name
}

// Tools lists the server's tools. The list is fetched once and cached.
func (t *Toolset) Tools(ctx context.Context) ([]llm.ToolDecl, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tools != nil {
		return append([]llm.ToolDecl(nil), t.tools...), nil
	}

	decls := []llm.ToolDecl{}
	params := &mcp.ListToolsParams{}
	for {
		res, err := t.session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list tools from %q: %w", t.name, err)
		}
		for _, tool := range res.Tools {
			schema, err := schemaMap(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %q schema: %w", tool.Name, err)
			}
			decls = append(decls, llm.ToolDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			})
		}
		if res.NextCursor == "" {
			break
		}
		params.Cursor = res.NextCursor
	}

	t.logger.Info("mcp tools loaded", "server", t.name, "count", len(decls))
	t.tools = decls
	return append([]llm.ToolDecl(nil), decls...), nil
}

// Call invokes a tool. A result flagged as an error by the server becomes a
// Go error carrying the result text.
func (t *Toolset) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call tool %q: %w", name, err)
	}

	text := resultText(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, errors.New(text)
	}
	if res.StructuredContent != nil {
		if m, err := schemaMap(res.StructuredContent); err == nil && m != nil {
			return m, nil
		}
	}
	return map[string]any{"result": text}, nil
}

// Close ends the client session, which also stops a launched subprocess.
func (t *Toolset) Close() error {
	return t.session.Close()
}

func resultText(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// schemaMap converts an arbitrary JSON-shaped value into a map.
func schemaMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
