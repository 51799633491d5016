package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

// Config holds the LLM client configuration.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	// RateLimit is the number of requests allowed per minute.
	RateLimit  int
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// chatClient wraps a chat completion endpoint with rate limiting and retry.
type chatClient struct {
	api         *openai.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	model       string
	retryOpts   service.RetryOptions
	temperature float32
	maxTokens   int
}

func newChatClient(cfg Config, logger *slog.Logger) (*chatClient, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: OpenAI API key is required", common.ErrMissingConfig)
		}
	case "local":
		// llama.cpp and similar servers ignore the key but require a base URL.
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: base URL is required for local provider", common.ErrMissingConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.3
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 500
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &chatClient{
		api:         openai.NewClientWithConfig(apiCfg),
		limiter:     newLimiter(cfg.RateLimit),
		logger:      common.LoggerOrDefault(logger),
		model:       model,
		temperature: float32(temperature),
		maxTokens:   maxTokens,
		retryOpts: service.RetryOptions{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: retryDelay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

type completionRequest struct {
	system    string
	prompt    string
	maxTokens int
	jsonMode  bool
}

// complete sends a single-turn chat completion and returns the raw message content.
func (c *chatClient) complete(ctx context.Context, req completionRequest) (string, error) {
	maxTokens := req.maxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.system},
			{Role: openai.ChatMessageRoleUser, Content: req.prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	}
	if req.jsonMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	err := common.WithRetry(ctx, func() error {
		if err := wait(ctx, c.limiter); err != nil {
			return common.Permanent(err)
		}

		resp, err := c.api.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return classifyAPIError(err)
		}
		if len(resp.Choices) == 0 {
			return common.Permanent(fmt.Errorf("no completion choices returned"))
		}

		choice := resp.Choices[0]
		if choice.FinishReason == openai.FinishReasonLength {
			c.logger.Warn("Completion truncated by token limit",
				"model", c.model,
				"max_tokens", maxTokens)
		}
		content = choice.Message.Content
		return nil
	}, c.retryOpts)
	if err != nil {
		return "", err
	}

	return content, nil
}

// classifyAPIError decides whether a go-openai failure is worth retrying.
func classifyAPIError(err error) error {
	status := 0

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.Permanent(err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case status >= 500, status == 0:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return common.Permanent(err)
	}
}
