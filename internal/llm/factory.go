package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider names a model backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderBedrock   Provider = "bedrock"
)

// Credentials holds the provider secrets a Model may need.
type Credentials struct {
	AnthropicAPIKey string
	GoogleAPIKey    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AWSRegion       string
}

// ParseModelRef splits a "provider/model" reference. Without a provider
// prefix the provider is inferred from the model name.
func ParseModelRef(ref string) (Provider, string) {
	if p, model, ok := strings.Cut(ref, "/"); ok {
		switch Provider(p) {
		case ProviderAnthropic, ProviderGemini, ProviderOpenAI, ProviderBedrock:
			return Provider(p), model
		}
	}
	return InferProvider(ref), ref
}

// InferProvider guesses the provider from a bare model name, defaulting to
// Gemini.
func InferProvider(model string) Provider {
	switch {
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "anthropic.") || strings.Contains(model, ".anthropic."):
		return ProviderBedrock
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return ProviderOpenAI
	default:
		return ProviderGemini
	}
}

// New builds the Model for provider. An empty provider is inferred from
// model.
func New(ctx context.Context, provider Provider, model string, creds Credentials) (Model, error) {
	if provider == "" {
		provider = InferProvider(model)
	}
	switch provider {
	case ProviderAnthropic:
		return NewAnthropic(creds.AnthropicAPIKey, model)
	case ProviderGemini:
		return NewGemini(ctx, creds.GoogleAPIKey, model)
	case ProviderOpenAI:
		return NewOpenAI(creds.OpenAIAPIKey, creds.OpenAIBaseURL, model)
	case ProviderBedrock:
		return NewBedrock(ctx, creds.AWSRegion, model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", provider)
	}
}
