// Package indexer splits documents into passages, embeds them and inserts
// them into the passage store, the vector index and the keyword index.
package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	defaultWorkers   = 4
	defaultBatchSize = 32
	restoreBatchSize = 512
)

// Loader reads a source into documents.
type Loader interface {
	Load(ctx context.Context, source string) ([]*models.Document, error)
}

// VectorIndex is the vector index the indexer writes to.
type VectorIndex interface {
	vector.Index
	Restore(passage models.Passage, vector []float32) error
}

// Stats summarises an ingestion run.
type Stats struct {
	RunID     string `json:"run_id"`
	Sources   int    `json:"sources"`
	Documents int    `json:"documents"`
	Skipped   int    `json:"skipped"`
	Passages  int    `json:"passages"`
}

// Indexer ingests documents. Inserts are serialised so passage ids stay in
// source order; embedding of a document's batches runs concurrently.
type Indexer struct {
	loader       Loader
	splitter     Splitter
	embedder     embedding.Embedder
	vectorIndex  VectorIndex
	storage      storage.Storage
	keywordIndex keyword.KeywordIndex
	workers      int
	batchSize    int
	logger       *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = utils.LoggerOrNop(l) }
}

// WithStorage persists every ingested document and passage.
func WithStorage(s storage.Storage) IndexerOption {
	return func(idx *Indexer) { idx.storage = s }
}

// WithKeywordIndex also indexes passages for keyword search.
func WithKeywordIndex(k keyword.KeywordIndex) IndexerOption {
	return func(idx *Indexer) { idx.keywordIndex = k }
}

// WithWorkers limits how many embedding batches run at once.
func WithWorkers(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// WithBatchSize sets how many passages go into one EmbedBatch call.
func WithBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(loader Loader, splitter Splitter, embedder embedding.Embedder, vectorIndex VectorIndex, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		loader:      loader,
		splitter:    splitter,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		workers:     defaultWorkers,
		batchSize:   defaultBatchSize,
		logger:      zap.NewNop(),
		seen:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Ingest loads every source and indexes its documents. Documents already
// stored are skipped. The first error stops the run; documents indexed
// before it remain indexed.
func (idx *Indexer) Ingest(ctx context.Context, sources ...string) (Stats, error) {
	stats := Stats{RunID: uuid.NewString()}
	for _, source := range sources {
		docs, err := idx.loader.Load(ctx, source)
		if err != nil {
			return stats, fmt.Errorf("failed to load %s: %w", source, err)
		}
		stats.Sources++
		idx.logger.Debug("indexer loaded source", zap.String("source", source), zap.Int("documents", len(docs)))
		for _, doc := range docs {
			n, err := idx.IndexDocument(ctx, stats.RunID, doc)
			if err != nil {
				return stats, err
			}
			if n < 0 {
				stats.Skipped++
				continue
			}
			stats.Documents++
			stats.Passages += n
		}
	}
	idx.logger.Info("Ingestion finished",
		zap.String("run_id", stats.RunID),
		zap.Int("sources", stats.Sources),
		zap.Int("documents", stats.Documents),
		zap.Int("skipped", stats.Skipped),
		zap.Int("passages", stats.Passages))
	return stats, nil
}

// IndexDocument splits, embeds and inserts one document and returns the
// number of passages added, or -1 when the document was already indexed.
func (idx *Indexer) IndexDocument(ctx context.Context, runID string, doc *models.Document) (int, error) {
	indexed, err := idx.alreadyIndexed(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	if indexed {
		idx.logger.Debug("indexer skipping known document", zap.String("source", doc.Source))
		return -1, nil
	}

	normalized := *doc
	normalized.Text = Preprocess(doc.Text)
	seq, err := idx.splitter.Split(&normalized)
	if err != nil {
		return 0, fmt.Errorf("failed to split %s: %w", doc.Source, err)
	}
	var passages []models.Passage
	for p := range seq {
		passages = append(passages, p)
	}
	if len(passages) == 0 {
		return 0, nil
	}

	vectors, err := idx.embedPassages(ctx, passages)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %s: %w", doc.Source, err)
	}
	for _, v := range vectors {
		if len(v) != idx.vectorIndex.Dimensions() {
			return 0, &vector.DimensionMismatchError{Got: len(v), Want: idx.vectorIndex.Dimensions()}
		}
	}

	if err := idx.insert(ctx, runID, &normalized, passages, vectors); err != nil {
		return 0, err
	}
	idx.logger.Debug("indexer document indexed",
		zap.String("source", doc.Source),
		zap.String("doc_id", doc.ID),
		zap.Int("passages", len(passages)))
	return len(passages), nil
}

func (idx *Indexer) alreadyIndexed(ctx context.Context, docID string) (bool, error) {
	idx.mu.Lock()
	_, ok := idx.seen[docID]
	idx.mu.Unlock()
	if ok || idx.storage == nil {
		return ok, nil
	}
	ok, err := idx.storage.HasDocument(ctx, docID)
	if err != nil {
		return false, fmt.Errorf("failed to check document: %w", err)
	}
	return ok, nil
}

// embedPassages embeds passages in batches on a bounded worker set. The
// result has one vector per passage, in passage order.
func (idx *Indexer) embedPassages(ctx context.Context, passages []models.Passage) ([][]float32, error) {
	vectors := make([][]float32, len(passages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for start := 0; start < len(passages); start += idx.batchSize {
		end := min(start+idx.batchSize, len(passages))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = passages[start+i].Text
			}
			batch, err := idx.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return &embedding.EmbeddingError{Err: err}
			}
			if len(batch) != len(texts) {
				return &embedding.EmbeddingError{Err: fmt.Errorf("provider returned %d vectors for %d texts", len(batch), len(texts))}
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// insert assigns ids, persists the document and then adds the passages to
// the in-memory indexes. Holding mu keeps the assigned ids equal to the ids
// the vector index hands out.
func (idx *Indexer) insert(ctx context.Context, runID string, doc *models.Document, passages []models.Passage, vectors [][]float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	base := int64(idx.vectorIndex.Size())
	for i := range passages {
		passages[i].ID = base + int64(i)
	}
	if idx.storage != nil {
		entries := make([]storage.Entry, len(passages))
		for i := range passages {
			entries[i] = storage.Entry{Passage: passages[i], Vector: vectors[i]}
		}
		if err := idx.storage.SaveDocument(ctx, doc, runID, entries); err != nil {
			return fmt.Errorf("failed to store document %s: %w", doc.Source, err)
		}
	}
	for i := range passages {
		id, err := idx.vectorIndex.Insert(passages[i], vectors[i])
		if err != nil {
			return fmt.Errorf("failed to index passage: %w", err)
		}
		if id != passages[i].ID {
			return fmt.Errorf("vector index assigned id %d, expected %d", id, passages[i].ID)
		}
	}
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.IndexPassages(ctx, passages); err != nil {
			return fmt.Errorf("failed to index keywords: %w", err)
		}
	}
	idx.seen[doc.ID] = struct{}{}
	return nil
}

// Restore rebuilds the vector and keyword indexes from storage and returns
// the number of passages restored. The vector index must be empty.
func (idx *Indexer) Restore(ctx context.Context) (int, error) {
	if idx.storage == nil {
		return 0, nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if n := idx.vectorIndex.Size(); n != 0 {
		return 0, fmt.Errorf("restore into non-empty index (%d passages)", n)
	}

	var pending []models.Passage
	flush := func() error {
		if idx.keywordIndex == nil || len(pending) == 0 {
			pending = pending[:0]
			return nil
		}
		err := idx.keywordIndex.IndexPassages(ctx, pending)
		pending = pending[:0]
		return err
	}
	count := 0
	err := idx.storage.ListEntries(ctx, func(e storage.Entry) error {
		if err := idx.vectorIndex.Restore(e.Passage, e.Vector); err != nil {
			return err
		}
		count++
		pending = append(pending, e.Passage)
		if len(pending) >= restoreBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return count, fmt.Errorf("failed to restore index: %w", err)
	}
	idx.logger.Info("Index restored from storage", zap.Int("passages", count))
	return count, nil
}
