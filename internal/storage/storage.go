// Package storage persists ingested documents, passages and their vectors.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrNotFound is returned when a document or passage does not exist.
var ErrNotFound = errors.New("not found")

// Entry is a passage with its embedding, as stored for index rebuilds.
type Entry struct {
	Passage models.Passage
	Vector  []float32
}

// Storage defines document and passage persistence operations.
type Storage interface {
	// SaveDocument stores a document and all of its entries atomically.
	// Entry passage ids must already be assigned.
	SaveDocument(ctx context.Context, doc *models.Document, runID string, entries []Entry) error
	HasDocument(ctx context.Context, id string) (bool, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	GetPassage(ctx context.Context, id int64) (*models.Passage, error)
	// ListEntries calls fn for every stored entry in ascending passage id order.
	ListEntries(ctx context.Context, fn func(Entry) error) error

	CountDocuments(ctx context.Context) (int64, error)
	CountPassages(ctx context.Context) (int64, error)

	Close() error
}
