package rag

import (
	"sort"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/vector"
)

// fusedResult holds a passage id with its weighted and component scores.
type fusedResult struct {
	ID            int64
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// normalizeKeywordScores scales keyword scores into [0,1] by the maximum.
func normalizeKeywordScores(results []keyword.KeywordResult) map[int64]float64 {
	normalized := make(map[int64]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		maxScore = max(maxScore, r.Score)
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// semanticScores returns cosine similarities by passage id.
func semanticScores(results []vector.Result) map[int64]float64 {
	scores := make(map[int64]float64, len(results))
	for _, r := range results {
		scores[r.Passage.ID] = r.Score
	}
	return scores
}

// fuse merges keyword and semantic scores with weights, sorted by fused
// score descending then id ascending. A passage missing from one side scores
// 0 on that side.
func fuse(keywordScores, semantic map[int64]float64, keywordWeight, semanticWeight float64) []fusedResult {
	byID := make(map[int64]*fusedResult, len(keywordScores)+len(semantic))
	for id, s := range keywordScores {
		byID[id] = &fusedResult{ID: id, KeywordScore: s}
	}
	for id, s := range semantic {
		if r, ok := byID[id]; ok {
			r.SemanticScore = s
		} else {
			byID[id] = &fusedResult{ID: id, SemanticScore: s}
		}
	}
	results := make([]fusedResult, 0, len(byID))
	for _, r := range byID {
		r.Score = keywordWeight*r.KeywordScore + semanticWeight*r.SemanticScore
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}
