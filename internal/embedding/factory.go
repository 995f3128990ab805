package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
)

// New builds the embedder selected by cfg.Provider, wrapped in an LRU cache when cfg.CacheSize is positive.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	opts := []LangChainOption{WithLogger(logger), WithMaxRetries(cfg.MaxRetries)}
	switch cfg.Provider {
	case config.ProviderMock, "":
		e = NewMockEmbedder(cfg.Dimensions)
	case config.ProviderONNX:
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case config.ProviderOpenAI:
		e, err = NewOpenAIEmbedder(cfg.Model, cfg.BaseURL, cfg.APIKey, cfg.Dimensions, opts...)
	case config.ProviderOllama:
		e, err = NewOllamaEmbedder(cfg.Model, cfg.BaseURL, cfg.Dimensions, opts...)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewCachedEmbedder(e, cfg.CacheSize), nil
}
