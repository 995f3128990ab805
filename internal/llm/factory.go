package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
)

// New builds the client selected by cfg.Provider.
func New(cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	opts := []Option{
		WithLogger(logger),
		WithTemperature(cfg.Temperature),
		WithMaxTokens(cfg.MaxTokens),
		WithMaxRetries(cfg.MaxRetries),
	}
	var (
		c   *LangChainClient
		err error
	)
	switch cfg.Provider {
	case config.ProviderEcho, "":
		return NewEchoClient(), nil
	case config.ProviderOpenAI:
		c, err = NewOpenAIClient(cfg.Model, cfg.BaseURL, cfg.APIKey, opts...)
	case config.ProviderOllama:
		c, err = NewOllamaClient(cfg.Model, cfg.BaseURL, opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
