// Package keyword provides full-text (BM25) search over indexed passages.
package keyword

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// KeywordIndex defines keyword search operations over passages.
type KeywordIndex interface {
	// IndexPassages adds passages, which must already carry their vector index ids.
	IndexPassages(ctx context.Context, passages []models.Passage) error
	Search(ctx context.Context, query string, limit int) ([]KeywordResult, error)
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit keyed by passage id.
type KeywordResult struct {
	ID    int64
	Score float64
}
