package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuery is returned by Validate when the query text is blank.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Query is a question to answer together with retrieval parameters.
type Query struct {
	Text    string            `json:"query"`
	TopK    int               `json:"top_k,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
}

// Validate trims the query text and normalizes TopK.
// A non-positive TopK becomes defaultTopK; a TopK above maxTopK is capped
// when maxTopK is positive.
func (q *Query) Validate(defaultTopK, maxTopK int) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return ErrEmptyQuery
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}
