package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dusk-indust/a2abridge/internal/session"
)

// Anthropic is a Model backed by the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic model. Extra request options such as a
// base URL are passed through to the SDK.
func NewAnthropic(apiKey, model string, opts ...option.RequestOption) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("llm: anthropic API key not set")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

func (a *Anthropic) Name() string { return a.model }

func (a *Anthropic) Generate(ctx context.Context, req Request) (*session.Content, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: defaultMaxTokens,
		Messages:  toAnthropicMessages(req.History),
		Tools:     toAnthropicTools(req.Tools),
	}
	if req.Instruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instruction}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: %w", err)
	}
	return fromAnthropicMessage(resp)
}

// toAnthropicMessages converts history to Anthropic message params. Inline
// blobs are dropped; turns left without blocks are skipped.
func toAnthropicMessages(history []session.Content) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, c := range history {
		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    p.FunctionCall.ID,
						Name:  p.FunctionCall.Name,
						Input: argsOrEmpty(p.FunctionCall.Args),
					},
				})
			case p.FunctionResponse != nil:
				blocks = append(blocks, anthropic.NewToolResultBlock(
					p.FunctionResponse.ID,
					responseJSON(p.FunctionResponse),
					isErrorResponse(p.FunctionResponse),
				))
			case p.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if c.Role == session.RoleModel {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toAnthropicTools(decls []ToolDecl) []anthropic.ToolUnionParam {
	if len(decls) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
		schema := objectSchema(d.Parameters)
		tool := &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   stringSlice(schema["required"]),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: tool})
	}
	return out
}

func fromAnthropicMessage(resp *anthropic.Message) (*session.Content, error) {
	out := &session.Content{Role: session.RoleModel}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Parts = append(out.Parts, session.Part{Text: b.Text})
		case anthropic.ToolUseBlock:
			var args map[string]any
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, fmt.Errorf("llm: anthropic: decode tool input for %s: %w", b.Name, err)
				}
			}
			out.Parts = append(out.Parts, session.Part{FunctionCall: &session.FunctionCall{
				ID:   b.ID,
				Name: b.Name,
				Args: args,
			}})
		}
	}
	return out, nil
}

func argsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

// stringSlice converts a decoded JSON array of strings.
func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
