package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultOllamaModel    = "llama3.1"
)

// LangChainClient serves providers through langchaingo.
type LangChainClient struct {
	llm     llms.Model
	model   string
	timeout time.Duration
}

// NewLangChainClient creates a client for an anthropic, ollama or openai provider.
func NewLangChainClient(provider Provider, cfg Config) (*LangChainClient, error) {
	var (
		model llms.Model
		err   error
	)
	name := cfg.Model

	switch provider {
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrAPIKeyNotSet)
		}
		if name == "" {
			name = DefaultAnthropicModel
		}
		model, err = anthropic.New(anthropic.WithToken(cfg.AnthropicAPIKey), anthropic.WithModel(name))
	case ProviderOllama:
		if name == "" {
			name = DefaultOllamaModel
		}
		opts := []ollama.Option{ollama.WithModel(name)}
		if cfg.OllamaHost != "" {
			opts = append(opts, ollama.WithServerURL(cfg.OllamaHost))
		}
		model, err = ollama.New(opts...)
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai: %w", ErrAPIKeyNotSet)
		}
		if name == "" {
			name = DefaultOpenAIModel
		}
		model, err = openai.New(openai.WithToken(cfg.OpenAIAPIKey), openai.WithModel(name))
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", provider, err)
	}
	return newLangChainClient(model, name, cfg.Timeout), nil
}

func newLangChainClient(model llms.Model, name string, timeout time.Duration) *LangChainClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LangChainClient{llm: model, model: name, timeout: timeout}
}

func (c *LangChainClient) Model() string {
	return c.model
}

func (c *LangChainClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	start := time.Now()
	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s %s call failed: %w", c.model, req.Operation, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:      choice.Content,
		Model:        c.model,
		InputTokens:  infoInt(choice.GenerationInfo, "InputTokens", "PromptTokens", "PromptEvalCount"),
		OutputTokens: infoInt(choice.GenerationInfo, "OutputTokens", "CompletionTokens", "EvalCount"),
		FinishReason: choice.StopReason,
		LatencyMs:    int(time.Since(start).Milliseconds()),
	}, nil
}

// infoInt reads the first numeric key present in a provider's generation info.
// Providers name their usage counters differently.
func infoInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

var _ Client = (*LangChainClient)(nil)
