package keyword

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/kotae/internal/models"
)

// BleveIndex implements KeywordIndex with an in-memory Bleve index. It is
// rebuilt from the passage store on startup, like the vector index.
type BleveIndex struct {
	index bleve.Index
}

type passageDoc struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize without stemming.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("source", keywordFieldMapping)
	im.AddDocumentMapping("passage", docMapping)
	im.DefaultType = "passage"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates an empty in-memory index.
func NewBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexPassages adds passages in one Bleve batch.
func (b *BleveIndex) IndexPassages(ctx context.Context, passages []models.Passage) error {
	batch := b.index.NewBatch()
	for _, p := range passages {
		if err := batch.Index(strconv.FormatInt(p.ID, 10), passageDoc{Content: p.Text, Source: p.Source}); err != nil {
			return fmt.Errorf("failed to index passage %d: %w", p.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.index.Batch(batch)
}

// Search runs a match query over passage text and returns up to limit hits,
// best first, ties by ascending id. For multi-term queries the score is
// multiplied by the squared fraction of query terms the passage contains, so
// passages matching every term outrank partial matches.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]KeywordResult, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []KeywordResult{}, nil
	}
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = reqSize
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	terms := tokenizeQuery(query)
	var coverage map[string]int
	if len(terms) > 1 {
		if coverage, err = b.termCoverage(ctx, terms, reqSize); err != nil {
			return nil, err
		}
	}

	out := make([]KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected passage id %q in keyword index", hit.ID)
		}
		score := hit.Score
		if coverage != nil {
			matched := max(coverage[hit.ID], 1)
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		out = append(out, KeywordResult{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tokenizeQuery splits query into unique lowercase terms.
func tokenizeQuery(query string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// termCoverage counts how many of terms each passage matches.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, reqSize int) (map[string]int, error) {
	coverage := make(map[string]int)
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q := bleve.NewMatchQuery(term)
		q.SetField("content")
		req := bleve.NewSearchRequest(q)
		req.Size = reqSize
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("keyword search for %q: %w", term, err)
		}
		for _, hit := range results.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage, nil
}

// DocCount returns the number of indexed passages.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
