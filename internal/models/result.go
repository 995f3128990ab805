package models

// Answer is the generated completion together with the ids of the passages
// that were placed in the prompt, in retrieval order.
type Answer struct {
	Text    string  `json:"answer"`
	Sources []int64 `json:"sources"`
}

// Citation expands an answer source with its passage for display.
type Citation struct {
	ID      int64   `json:"id"`
	Source  string  `json:"source"`
	Text    string  `json:"text"`
	Score   float64 `json:"score,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
}

// AskResponse is the response for an ask request.
type AskResponse struct {
	Answer    string     `json:"answer"`
	Sources   []int64    `json:"sources"`
	Citations []Citation `json:"citations,omitempty"`
	QueryTime int64      `json:"query_time_ms"`
	Query     string     `json:"query"`
}

// RetrieveResponse is the response for a retrieve request.
type RetrieveResponse struct {
	Passages  []*Passage `json:"passages"`
	QueryTime int64      `json:"query_time_ms"`
	Query     string     `json:"query"`
}
