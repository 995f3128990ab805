// Package models defines core data structures for documents, passages, queries, and answers.
package models

import "time"

// Document is one loaded unit of source text before it is split into passages.
type Document struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Title     string            `json:"title"`
	Text      string            `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Passage is a bounded unit of source text stored for retrieval.
// ID is assigned by the vector index at insertion; it is zero until then.
type Passage struct {
	ID       int64             `json:"id"`
	Text     string            `json:"text"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Matches reports whether every filter key is present in the passage metadata
// with exactly the same value. An empty filter set matches everything.
func (p *Passage) Matches(filters map[string]string) bool {
	for k, v := range filters {
		got, ok := p.Metadata[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}
