// Package indexer splits documents into passages and ingests them into the index.
package indexer

import (
	"fmt"
	"iter"
	"maps"
	"strconv"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/hyperjump/kotae/internal/models"
)

// Passage metadata keys set by every splitter.
const (
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
)

// Splitter turns a document into an ordered sequence of passages. Passage ids
// are left zero; the vector index assigns them at insertion.
type Splitter interface {
	Split(doc *models.Document) (iter.Seq[models.Passage], error)
}

// CharacterSplitter cuts text into windows of at most chunkSize runes. Each
// window starts chunkSize-chunkOverlap runes after the previous one, so
// consecutive passages share chunkOverlap runes. The last window ends at the
// end of the text however short it is.
type CharacterSplitter struct {
	chunkSize    int
	chunkOverlap int
}

// NewCharacterSplitter creates a splitter with the given size and overlap (in runes).
func NewCharacterSplitter(chunkSize, chunkOverlap int) (*CharacterSplitter, error) {
	if err := checkSizes(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &CharacterSplitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Split returns a lazy, restartable sequence of passages for doc.
func (c *CharacterSplitter) Split(doc *models.Document) (iter.Seq[models.Passage], error) {
	return func(yield func(models.Passage) bool) {
		for i, text := range c.Chunks(doc.Text) {
			if !yield(newPassage(doc, i, text)) {
				return
			}
		}
	}, nil
}

// Chunks returns the text windows of s with their index. Windows are cut on
// rune boundaries; s is never copied.
func (c *CharacterSplitter) Chunks(s string) iter.Seq2[int, string] {
	step := c.chunkSize - c.chunkOverlap
	return func(yield func(int, string) bool) {
		if s == "" {
			return
		}
		start := 0 // byte offset of the current window
		for idx := 0; ; idx++ {
			end := advance(s, start, c.chunkSize)
			if !yield(idx, s[start:end]) || end >= len(s) {
				return
			}
			start = advance(s, start, step)
		}
	}
}

// advance returns the byte offset n runes after from, or len(s).
func advance(s string, from, n int) int {
	i := from
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

// RecursiveSplitter splits on paragraph, line and word boundaries before
// falling back to characters, using langchaingo's recursive splitter. Sizes
// are measured in runes.
type RecursiveSplitter struct {
	splitter textsplitter.RecursiveCharacter
}

// NewRecursiveSplitter creates a recursive splitter with the given size and overlap (in runes).
func NewRecursiveSplitter(chunkSize, chunkOverlap int) (*RecursiveSplitter, error) {
	if err := checkSizes(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &RecursiveSplitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Split splits doc eagerly and returns a sequence over the result.
func (r *RecursiveSplitter) Split(doc *models.Document) (iter.Seq[models.Passage], error) {
	if doc.Text == "" {
		return func(func(models.Passage) bool) {}, nil
	}
	texts, err := r.splitter.SplitText(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", doc.Source, err)
	}
	return func(yield func(models.Passage) bool) {
		for i, text := range texts {
			if !yield(newPassage(doc, i, text)) {
				return
			}
		}
	}, nil
}

// NewSplitter returns the splitter named by kind ("character" or "recursive").
func NewSplitter(kind string, chunkSize, chunkOverlap int) (Splitter, error) {
	switch kind {
	case "character", "":
		s, err := NewCharacterSplitter(chunkSize, chunkOverlap)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "recursive":
		s, err := NewRecursiveSplitter(chunkSize, chunkOverlap)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown splitter: %s", kind)
	}
}

func checkSizes(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}
	return nil
}

func newPassage(doc *models.Document, index int, text string) models.Passage {
	meta := maps.Clone(doc.Metadata)
	if meta == nil {
		meta = make(map[string]string, 2)
	}
	meta[MetaSource] = doc.Source
	meta[MetaChunkIndex] = strconv.Itoa(index)
	return models.Passage{Text: text, Source: doc.Source, Metadata: meta}
}
