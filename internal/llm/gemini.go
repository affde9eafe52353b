package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dusk-indust/a2abridge/internal/session"
)

// Gemini is a Model backed by the Google Generative AI API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini model using an API key.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("llm: google API key not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: create client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return g.model }

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func (g *Gemini) Generate(ctx context.Context, req Request) (*session.Content, error) {
	history := toGeminiContents(req.History)
	if len(history) == 0 {
		return nil, errors.New("llm: gemini: empty conversation")
	}

	// GenerativeModel carries per-request settings, so one is built per call
	// to keep concurrent runs independent.
	model := g.client.GenerativeModel(g.model)
	if req.Instruction != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Instruction)}}
	}
	model.Tools = toGeminiTools(req.Tools)

	chat := model.StartChat()
	last := history[len(history)-1]
	chat.History = history[:len(history)-1]

	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: %w", err)
	}
	return fromGeminiResponse(resp)
}

func toGeminiContents(history []session.Content) []*genai.Content {
	var out []*genai.Content
	for _, c := range history {
		var parts []genai.Part
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				parts = append(parts, genai.FunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args})
			case p.FunctionResponse != nil:
				parts = append(parts, genai.FunctionResponse{Name: p.FunctionResponse.Name, Response: p.FunctionResponse.Response})
			case p.InlineData != nil:
				parts = append(parts, genai.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
			case p.Text != "":
				parts = append(parts, genai.Text(p.Text))
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if c.Role == session.RoleModel {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

func toGeminiTools(decls []ToolDecl) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toGeminiSchema(objectSchema(d.Parameters)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

// toGeminiSchema converts the subset of JSON Schema Gemini understands.
func toGeminiSchema(s map[string]any) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        geminiType(s["type"]),
		Description: stringOf(s["description"]),
		Required:    stringSlice(s["required"]),
		Enum:        stringSlice(s["enum"]),
		Format:      stringOf(s["format"]),
	}
	if props, ok := s["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = toGeminiSchema(sub)
			}
		}
	}
	if items, ok := s["items"].(map[string]any); ok {
		out.Items = toGeminiSchema(items)
	}
	return out
}

func geminiType(v any) genai.Type {
	t := stringOf(v)
	if list, ok := v.([]any); ok && len(list) > 0 {
		// ["string","null"] style unions: take the first non-null type.
		for _, e := range list {
			if s, _ := e.(string); s != "null" {
				t = s
				break
			}
		}
	}
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeUnspecified
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) (*session.Content, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("llm: gemini: empty response")
	}
	out := &session.Content{Role: session.RoleModel}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Parts = append(out.Parts, session.Part{Text: string(p)})
		case genai.FunctionCall:
			out.Parts = append(out.Parts, session.Part{FunctionCall: &session.FunctionCall{Name: p.Name, Args: p.Args}})
		case *genai.FunctionCall:
			out.Parts = append(out.Parts, session.Part{FunctionCall: &session.FunctionCall{Name: p.Name, Args: p.Args}})
		case genai.Blob:
			out.Parts = append(out.Parts, session.Part{InlineData: &session.Blob{MIMEType: p.MIMEType, Data: p.Data}})
		}
	}
	return out, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
