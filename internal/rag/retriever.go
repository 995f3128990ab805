// Package rag wires retrieval, prompt assembly and generation into the
// question answering loop.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

const defaultCandidates = 50

// Retriever embeds a query and returns the most similar passages.
type Retriever struct {
	embedder     embedding.Embedder
	index        vector.Index
	embedTimeout time.Duration

	keywordIndex   keyword.KeywordIndex
	keywordWeight  float64
	semanticWeight float64
	candidates     int
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithEmbedTimeout bounds the query embedding call.
func WithEmbedTimeout(d time.Duration) RetrieverOption {
	return func(r *Retriever) { r.embedTimeout = d }
}

// WithHybrid enables hybrid retrieval: keyword hits from kw are fused with
// vector hits using the given weights over candidates results from each side.
func WithHybrid(kw keyword.KeywordIndex, keywordWeight, semanticWeight float64, candidates int) RetrieverOption {
	return func(r *Retriever) {
		r.keywordIndex = kw
		r.keywordWeight = keywordWeight
		r.semanticWeight = semanticWeight
		if candidates > 0 {
			r.candidates = candidates
		}
	}
}

// NewRetriever returns a vector-only Retriever unless WithHybrid is given.
func NewRetriever(embedder embedding.Embedder, index vector.Index, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder:   embedder,
		index:      index,
		candidates: defaultCandidates,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hybrid reports whether keyword results are fused in.
func (r *Retriever) Hybrid() bool {
	return r.keywordIndex != nil
}

// Retrieve returns up to q.TopK passages matching q.Filters, most similar first.
func (r *Retriever) Retrieve(ctx context.Context, q models.Query) ([]models.Passage, error) {
	results, err := r.RetrieveScored(ctx, q)
	if err != nil {
		return nil, err
	}
	passages := make([]models.Passage, len(results))
	for i, res := range results {
		passages[i] = *res.Passage
	}
	return passages, nil
}

// RetrieveScored is Retrieve with scores. In hybrid mode the score is the
// fused score. Embedder failures are returned as *embedding.EmbeddingError.
func (r *Retriever) RetrieveScored(ctx context.Context, q models.Query) ([]vector.Result, error) {
	queryVec, err := r.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	if !r.Hybrid() {
		return r.index.Search(ctx, queryVec, q.TopK, q.Filters)
	}
	return r.hybridSearch(ctx, q, queryVec)
}

func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.embedTimeout)
		defer cancel()
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		var ee *embedding.EmbeddingError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, &embedding.EmbeddingError{Err: err}
	}
	return vec, nil
}

func (r *Retriever) hybridSearch(ctx context.Context, q models.Query, queryVec []float32) ([]vector.Result, error) {
	if q.TopK <= 0 {
		return []vector.Result{}, nil
	}
	candidates := max(r.candidates, q.TopK)
	semantic, err := r.index.Search(ctx, queryVec, candidates, q.Filters)
	if err != nil {
		return nil, err
	}
	kwHits, err := r.keywordIndex.Search(ctx, q.Text, candidates)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	passages := make(map[int64]*models.Passage, len(semantic)+len(kwHits))
	for _, res := range semantic {
		passages[res.Passage.ID] = res.Passage
	}
	matching := kwHits[:0:0]
	for _, hit := range kwHits {
		p, ok := passages[hit.ID]
		if !ok {
			if p, ok = r.index.Get(hit.ID); !ok || !p.Matches(q.Filters) {
				continue
			}
			passages[hit.ID] = p
		}
		matching = append(matching, hit)
	}

	fused := fuse(normalizeKeywordScores(matching), semanticScores(semantic), r.keywordWeight, r.semanticWeight)
	if len(fused) > q.TopK {
		fused = fused[:q.TopK]
	}
	results := make([]vector.Result, len(fused))
	for i, f := range fused {
		results[i] = vector.Result{Passage: passages[f.ID], Score: f.Score}
	}
	return results, nil
}
