// Package llm streams completions from model providers for the development
// backend.
package llm

import (
	"context"
	"fmt"
)

// TokenFunc is called for each generated fragment, in order. Returning an
// error aborts the generation.
type TokenFunc func(token string) error

// ChatMessage is one turn of the prompt history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a streaming completion request.
type Request struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// Completion summarizes a finished generation.
type Completion struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Tokens returns the total metered tokens.
func (c *Completion) Tokens() int {
	return c.TokensIn + c.TokensOut
}

// Client is a model provider.
type Client interface {
	// Stream generates a reply, calling onToken for every fragment.
	Stream(ctx context.Context, req *Request, onToken TokenFunc) (*Completion, error)

	// Name returns the provider name.
	Name() string

	// Models returns the model ids the provider serves.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderEcho      Provider = "echo"
)

// NewClient creates a client for provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	case ProviderEcho:
		return NewEchoClient(0), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

const defaultMaxTokens = 4096

func maxTokens(req *Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
