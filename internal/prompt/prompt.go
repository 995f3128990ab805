// Package prompt assembles the text-generation prompt from a query and its
// retrieved passages.
package prompt

import (
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// Assembler builds prompts with a fixed instruction header.
type Assembler struct {
	header string
}

// NewAssembler returns an Assembler using header as the instruction block.
func NewAssembler(header string) *Assembler {
	return &Assembler{header: strings.TrimSpace(header)}
}

// Prompt is an assembled prompt split by chat role: System carries the
// instructions and retrieved context, User the query.
type Prompt struct {
	System string
	User   string
}

// String joins both parts into a single prompt.
func (p Prompt) String() string {
	return p.System + "\n\n" + p.User
}

// Build returns the prompt for query over passages. The output depends only
// on its inputs.
//
//	<header>
//
//	Context:
//	[source] passage text
//	...
//
//	User Query:
//	<query>
func (a *Assembler) Build(query string, passages []models.Passage) Prompt {
	var sb strings.Builder
	sb.WriteString(a.header)
	sb.WriteString("\n\nContext:\n")
	for i, p := range passages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteByte('[')
		sb.WriteString(p.Source)
		sb.WriteString("] ")
		sb.WriteString(p.Text)
	}
	return Prompt{System: sb.String(), User: "User Query:\n" + query}
}

// Assemble is Build joined into one string.
func (a *Assembler) Assemble(query string, passages []models.Passage) string {
	return a.Build(query, passages).String()
}
