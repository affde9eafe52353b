package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/dusk-indust/a2abridge/internal/session"
)

// bedrockAnthropicVersion is the request schema version Bedrock expects for
// Anthropic models.
const bedrockAnthropicVersion = "bedrock-2023-05-31"

// invoker is the slice of the Bedrock runtime client the model uses.
type invoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Bedrock is a Model serving Anthropic models through AWS Bedrock.
type Bedrock struct {
	client  invoker
	modelID string
}

// NewBedrock loads the default AWS configuration (environment, shared
// config, instance role) and creates a Bedrock model. An empty region keeps
// whatever the AWS configuration resolves.
func NewBedrock(ctx context.Context, region, modelID string) (*Bedrock, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: load AWS config: %w", err)
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(cfg), modelID: modelID}, nil
}

func (b *Bedrock) Name() string { return b.modelID }

func (b *Bedrock) Generate(ctx context.Context, req Request) (*session.Content, error) {
	body, err := bedrockRequestBody(req)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: invoke %s: %w", b.modelID, err)
	}
	return parseBedrockResponse(resp.Body)
}

type bedrockBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

type bedrockTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
}

type bedrockResponse struct {
	Content    []bedrockBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func bedrockRequestBody(req Request) ([]byte, error) {
	body := bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        defaultMaxTokens,
		System:           req.Instruction,
		Messages:         []bedrockMessage{},
	}
	for _, c := range req.History {
		msg := bedrockMessage{Role: "user"}
		if c.Role == session.RoleModel {
			msg.Role = "assistant"
		}
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				msg.Content = append(msg.Content, bedrockBlock{
					Type:  "tool_use",
					ID:    p.FunctionCall.ID,
					Name:  p.FunctionCall.Name,
					Input: argsOrEmpty(p.FunctionCall.Args),
				})
			case p.FunctionResponse != nil:
				msg.Content = append(msg.Content, bedrockBlock{
					Type:      "tool_result",
					ToolUseID: p.FunctionResponse.ID,
					Content:   responseJSON(p.FunctionResponse),
					IsError:   isErrorResponse(p.FunctionResponse),
				})
			case p.Text != "":
				msg.Content = append(msg.Content, bedrockBlock{Type: "text", Text: p.Text})
			}
		}
		if len(msg.Content) > 0 {
			body.Messages = append(body.Messages, msg)
		}
	}
	for _, d := range req.Tools {
		body.Tools = append(body.Tools, bedrockTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: objectSchema(d.Parameters),
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: encode request: %w", err)
	}
	return data, nil
}

func parseBedrockResponse(data []byte) (*session.Content, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("llm: bedrock: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("llm: bedrock: %s", resp.Error.Message)
	}

	out := &session.Content{Role: session.RoleModel}
	for i, b := range resp.Content {
		switch b.Type {
		case "text":
			out.Parts = append(out.Parts, session.Part{Text: b.Text})
		case "tool_use":
			id := b.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, b.Name)
			}
			out.Parts = append(out.Parts, session.Part{FunctionCall: &session.FunctionCall{
				ID:   id,
				Name: b.Name,
				Args: b.Input,
			}})
		}
	}
	return out, nil
}
