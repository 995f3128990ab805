package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

var errEmptyResponse = errors.New("provider returned no choices")

// LangChainClient generates completions through a langchaingo model.
type LangChainClient struct {
	model       llms.Model
	temperature float64
	maxTokens   int
	maxRetries  uint64
	retryBase   time.Duration
	logger      *zap.Logger
}

// Option configures a LangChainClient.
type Option func(*LangChainClient)

// WithLogger sets the logger used to report retries.
func WithLogger(l *zap.Logger) Option {
	return func(c *LangChainClient) {
		c.logger = l
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *LangChainClient) {
		c.temperature = t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *LangChainClient) {
		c.maxTokens = n
	}
}

// WithMaxRetries sets how many times a failed provider call is retried.
func WithMaxRetries(n int) Option {
	return func(c *LangChainClient) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithRetryBase sets the first backoff interval.
func WithRetryBase(d time.Duration) Option {
	return func(c *LangChainClient) {
		c.retryBase = d
	}
}

// NewLangChainClient wraps an existing langchaingo model.
func NewLangChainClient(model llms.Model, opts ...Option) *LangChainClient {
	c := &LangChainClient{model: model}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.LoggerOrNop(c.logger)
	return c
}

// NewOpenAIClient creates a client for the OpenAI chat completions API.
// An empty apiKey falls back to OPENAI_API_KEY.
func NewOpenAIClient(model, baseURL, apiKey string, opts ...Option) (*LangChainClient, error) {
	clientOpts := []openai.Option{openai.WithModel(model)}
	if baseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		clientOpts = append(clientOpts, openai.WithToken(apiKey))
	}
	m, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return NewLangChainClient(m, opts...), nil
}

// NewOllamaClient creates a client for a local Ollama server.
func NewOllamaClient(model, baseURL string, opts ...Option) (*LangChainClient, error) {
	clientOpts := []ollama.Option{ollama.WithModel(model)}
	if baseURL != "" {
		clientOpts = append(clientOpts, ollama.WithServerURL(baseURL))
	}
	m, err := ollama.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return NewLangChainClient(m, opts...), nil
}

// Generate sends prompt as a single user message and returns the first choice.
func (c *LangChainClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
}

// GenerateMessages sends system as a system message followed by user as a
// user message and returns the first choice.
func (c *LangChainClient) GenerateMessages(ctx context.Context, system, user string) (string, error) {
	return c.generate(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	})
}

func (c *LangChainClient) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.maxTokens))
	}
	var completion string
	attempt := 0
	err := utils.Retry(ctx, c.maxRetries, c.retryBase, func(ctx context.Context) error {
		attempt++
		resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
		if err == nil && len(resp.Choices) == 0 {
			err = errEmptyResponse
		}
		if err != nil {
			if utils.ShouldRetry(err) && uint64(attempt) <= c.maxRetries {
				c.logger.Warn("generation provider call failed, retrying",
					zap.Int("attempt", attempt), zap.Error(err))
			}
			return err
		}
		completion = resp.Choices[0].Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return completion, nil
}
