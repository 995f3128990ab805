package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/loader"
	"github.com/hyperjump/kotae/internal/prompt"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Config       *config.Config
	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorIndex  *vector.MemoryIndex
	KeywordIndex keyword.KeywordIndex
	Indexer      *indexer.Indexer
	Orchestrator *rag.Orchestrator
}

// Close releases every component that holds resources.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Embedder, err = embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.VectorIndex, err = vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}
	splitter, err := indexer.NewSplitter(cfg.Chunking.Splitter, cfg.Chunking.ChunkSize, cfg.Chunking.Overlap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize splitter: %w", err)
	}

	ixOpts := []indexer.IndexerOption{
		indexer.WithLogger(logger),
		indexer.WithStorage(c.Storage),
		indexer.WithWorkers(cfg.Ingest.Workers),
		indexer.WithBatchSize(cfg.Ingest.BatchSize),
	}
	rOpts := []rag.RetrieverOption{rag.WithEmbedTimeout(cfg.Embedding.Timeout)}
	if cfg.Retrieval.Mode == config.ModeHybrid {
		kw, err := keyword.NewBleveIndex()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		c.KeywordIndex = kw
		ixOpts = append(ixOpts, indexer.WithKeywordIndex(kw))
		rOpts = append(rOpts, rag.WithHybrid(kw, cfg.Retrieval.KeywordWeight, cfg.Retrieval.SemanticWeight, cfg.Retrieval.Candidates))
	}

	ld := loader.New(
		loader.WithExtensions(cfg.Ingest.Extensions),
		loader.WithRecursive(cfg.Ingest.RecursiveOrDefault()),
		loader.WithLogger(logger),
	)
	c.Indexer = indexer.NewIndexer(ld, splitter, c.Embedder, c.VectorIndex, ixOpts...)
	c.Orchestrator = rag.NewOrchestrator(
		rag.Config{
			DefaultTopK:     cfg.Retrieval.TopK,
			MaxTopK:         cfg.Retrieval.MaxTopK,
			GenerateTimeout: cfg.LLM.Timeout,
		},
		c.Indexer,
		rag.NewRetriever(c.Embedder, c.VectorIndex, rOpts...),
		prompt.NewAssembler(cfg.Prompt.Header),
		client,
		rag.WithLogger(logger),
	)
	return c, nil
}

// prepare restores the index from storage, ingests sources and switches the
// orchestrator to serving.
func (c *Components) prepare(ctx context.Context, sources []string) (indexer.Stats, error) {
	if _, err := c.Orchestrator.Restore(ctx); err != nil {
		return indexer.Stats{}, err
	}
	if len(sources) == 0 {
		return indexer.Stats{}, c.Orchestrator.MarkServing()
	}
	return c.Orchestrator.Ingest(ctx, sources...)
}
