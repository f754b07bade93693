package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultTimeout     = 60 * time.Second

	// rateLimitRetries bounds retries of 429 responses.
	rateLimitRetries = 3
	// jsonRetries bounds re-asks when JSON mode returns unparseable output.
	jsonRetries = 1
)

// OpenAIClient calls the chat completions API.
type OpenAIClient struct {
	client  openai.Client
	model   string
	timeout time.Duration
	// backoffInterval is shortened in tests.
	backoffInterval time.Duration
}

// NewOpenAIClient creates a client for model (DefaultOpenAIModel when empty).
// opts are passed to the SDK, e.g. option.WithBaseURL.
func NewOpenAIClient(apiKey, model string, timeout time.Duration, opts ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrAPIKeyNotSet)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// 429s are retried here with our own policy.
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &OpenAIClient{
		client:          openai.NewClient(opts...),
		model:           model,
		timeout:         timeout,
		backoffInterval: 2 * time.Second,
	}, nil
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		resp, err := c.completeWithRetry(ctx, req)
		if err != nil {
			return nil, err
		}
		if req.JSON && !json.Valid([]byte(resp.Content)) {
			if attempt < jsonRetries {
				continue
			}
			return nil, fmt.Errorf("openai %s: invalid JSON after %d attempts", req.Operation, attempt+1)
		}
		return resp, nil
	}
}

func (c *OpenAIClient) completeWithRetry(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    c.messages(req),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.backoffInterval
	policy.Reset()

	var completion *openai.ChatCompletion
	start := time.Now()
	err := backoff.Retry(func() error {
		var err error
		completion, err = c.client.Chat.Completions.New(ctx, params)
		if err == nil || isRateLimit(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, rateLimitRetries), ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, fmt.Errorf("openai %s call failed: %w", req.Operation, err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := completion.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		Model:        completion.Model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		FinishReason: choice.FinishReason,
		LatencyMs:    int(time.Since(start).Milliseconds()),
	}, nil
}

func (c *OpenAIClient) messages(req *CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	return append(msgs, openai.UserMessage(req.Prompt))
}

func isRateLimit(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

var _ Client = (*OpenAIClient)(nil)
