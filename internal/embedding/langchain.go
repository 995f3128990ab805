package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

// LangChainEmbedder embeds text through a hosted provider client from langchaingo.
// Transient failures are retried with backoff; returned vectors are L2-normalized.
type LangChainEmbedder struct {
	embedder   embeddings.Embedder
	dimensions int
	maxRetries uint64
	retryBase  time.Duration
	logger     *zap.Logger
}

// LangChainOption configures a LangChainEmbedder.
type LangChainOption func(*LangChainEmbedder)

// WithLogger sets the logger used to report retries.
func WithLogger(l *zap.Logger) LangChainOption {
	return func(e *LangChainEmbedder) {
		e.logger = l
	}
}

// WithMaxRetries sets how many times a failed provider call is retried.
func WithMaxRetries(n int) LangChainOption {
	return func(e *LangChainEmbedder) {
		if n >= 0 {
			e.maxRetries = uint64(n)
		}
	}
}

// WithRetryBase sets the first backoff interval.
func WithRetryBase(d time.Duration) LangChainOption {
	return func(e *LangChainEmbedder) {
		e.retryBase = d
	}
}

// NewLangChainEmbedder wraps an existing langchaingo embedder.
func NewLangChainEmbedder(embedder embeddings.Embedder, dimensions int, opts ...LangChainOption) *LangChainEmbedder {
	e := &LangChainEmbedder{embedder: embedder, dimensions: dimensions}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.LoggerOrNop(e.logger)
	return e
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI embeddings API.
// An empty baseURL uses the public endpoint; an empty apiKey falls back to OPENAI_API_KEY.
func NewOpenAIEmbedder(model, baseURL, apiKey string, dimensions int, opts ...LangChainOption) (*LangChainEmbedder, error) {
	clientOpts := []openai.Option{openai.WithEmbeddingModel(model)}
	if baseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		clientOpts = append(clientOpts, openai.WithToken(apiKey))
	}
	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai embedder: %w", err)
	}
	return NewLangChainEmbedder(emb, dimensions, opts...), nil
}

// NewOllamaEmbedder creates an embedder backed by a local Ollama server.
func NewOllamaEmbedder(model, baseURL string, dimensions int, opts ...LangChainOption) (*LangChainEmbedder, error) {
	clientOpts := []ollama.Option{ollama.WithModel(model)}
	if baseURL != "" {
		clientOpts = append(clientOpts, ollama.WithServerURL(baseURL))
	}
	client, err := ollama.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
	}
	return NewLangChainEmbedder(emb, dimensions, opts...), nil
}

// Embed returns the embedding for a single text.
func (e *LangChainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.retry(ctx, "embed query", func(ctx context.Context) error {
		v, err := e.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		if err := checkDimensions([][]float32{v}, e.dimensions); err != nil {
			return utils.Permanent(err)
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts in one provider call; the result keeps input order.
func (e *LangChainEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var vecs [][]float32
	err := e.retry(ctx, "embed documents", func(ctx context.Context) error {
		v, err := e.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return utils.Permanent(fmt.Errorf("provider returned %d embeddings for %d texts", len(v), len(texts)))
		}
		if err := checkDimensions(v, e.dimensions); err != nil {
			return utils.Permanent(err)
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, v := range vecs {
		utils.NormalizeL2(v)
	}
	return vecs, nil
}

func (e *LangChainEmbedder) retry(ctx context.Context, op string, task func(ctx context.Context) error) error {
	attempt := 0
	return utils.Retry(ctx, e.maxRetries, e.retryBase, func(ctx context.Context) error {
		attempt++
		err := task(ctx)
		if err != nil && utils.ShouldRetry(err) && uint64(attempt) <= e.maxRetries {
			e.logger.Warn("embedding provider call failed, retrying",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
}

// Dimensions returns the configured embedding dimension.
func (e *LangChainEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP clients need no teardown.
func (e *LangChainEmbedder) Close() error {
	return nil
}
