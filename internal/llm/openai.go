package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/dusk-indust/a2abridge/internal/session"
)

// OpenAI is a Model backed by the OpenAI Chat Completions API or any
// compatible endpoint.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI model. A non-empty baseURL targets a
// compatible server instead of api.openai.com.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai API key not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}, nil
}

func (o *OpenAI) Name() string { return o.model }

func (o *OpenAI) Generate(ctx context.Context, req Request) (*session.Content, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: toOpenAIMessages(req.Instruction, req.History),
		Tools:    toOpenAITools(req.Tools),
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: openai: %w", err)
	}
	return fromOpenAICompletion(resp)
}

func toOpenAIMessages(instruction string, history []session.Content) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if instruction != "" {
		out = append(out, openai.SystemMessage(instruction))
	}
	for _, c := range history {
		if c.Role == session.RoleModel {
			msg := openai.ChatCompletionMessage{Role: "assistant", Content: c.Text()}
			for _, call := range c.FunctionCalls() {
				args, err := json.Marshal(argsOrEmpty(call.Args))
				if err != nil {
					continue
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			out = append(out, msg.ToParam())
			continue
		}

		for _, p := range c.Parts {
			switch {
			case p.FunctionResponse != nil:
				out = append(out, openai.ToolMessage(responseJSON(p.FunctionResponse), p.FunctionResponse.ID))
			case p.Text != "":
				out = append(out, openai.UserMessage(p.Text))
			}
		}
	}
	return out
}

func toOpenAITools(decls []ToolDecl) []openai.ChatCompletionToolUnionParam {
	if len(decls) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(decls))
	for _, d := range decls {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  openai.FunctionParameters(objectSchema(d.Parameters)),
		}))
	}
	return out
}

func fromOpenAICompletion(resp *openai.ChatCompletion) (*session.Content, error) {
	out := &session.Content{Role: session.RoleModel}
	if len(resp.Choices) == 0 {
		return out, nil
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		out.Parts = append(out.Parts, session.Part{Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("llm: openai: decode arguments for %s: %w", tc.Function.Name, err)
			}
		}
		out.Parts = append(out.Parts, session.Part{FunctionCall: &session.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}})
	}
	return out, nil
}
