// Package llm is the generative-model layer: a small Client interface, an
// openai-go implementation, a langchaingo implementation for other providers,
// and a rate-limited, instrumented wrapper shared by every pipeline stage.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client sends one prompt and returns the model output.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is one generative call.
type CompletionRequest struct {
	// Operation labels the call in metrics and spans, e.g. "classify".
	Operation   string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// CompletionResponse is the model output and its usage.
type CompletionResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	FinishReason string
	LatencyMs    int
}

// Provider selects the Client implementation.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
		return true
	}
	return false
}

var (
	ErrAPIKeyNotSet = errors.New("llm: API key not set")
	ErrNoChoices    = errors.New("llm: no completion choices returned")
)

// Config selects and configures a provider.
type Config struct {
	Provider        Provider
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string
	Timeout         time.Duration
	// RequestsPerSecond and Burst bound calls across the whole process.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns an OpenAI configuration with conservative limits.
func DefaultConfig() Config {
	return Config{
		Provider:          ProviderOpenAI,
		Model:             DefaultOpenAIModel,
		Timeout:           DefaultTimeout,
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// New builds the provider client named by cfg. The result is not rate
// limited; wrap it with NewLimited.
func New(cfg Config) (Client, error) {
	provider := Provider(strings.ToLower(string(cfg.Provider)))
	if provider == "" {
		provider = ProviderOpenAI
	}
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.Model, cfg.Timeout)
	case ProviderAnthropic, ProviderOllama:
		return NewLangChainClient(provider, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
