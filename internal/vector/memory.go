package vector

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
)

// ctxCheckEvery is how many entries Search scans between context checks.
const ctxCheckEvery = 4096

type entry struct {
	passage models.Passage
	vector  []float32
}

// MemoryIndex is an in-memory vector index using brute-force cosine search.
// Ids are positions in the entry slice, so they start at 0 and never skip.
type MemoryIndex struct {
	dimensions int
	entries    []entry
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		entries:    make([]entry, 0),
	}, nil
}

// Insert assigns the next id to passage, stores it with a copy of vector and
// returns the id. A vector of the wrong length or with a NaN or infinite
// component is rejected and the index is unchanged.
func (m *MemoryIndex) Insert(passage models.Passage, vector []float32) (int64, error) {
	if err := checkVector(vector, m.dimensions); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.entries))
	m.append(id, passage, vector)
	return id, nil
}

// Restore re-inserts a passage that was persisted with a known id. The id
// must equal the one Insert would assign next.
func (m *MemoryIndex) Restore(passage models.Passage, vector []float32) error {
	if err := checkVector(vector, m.dimensions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if next := int64(len(m.entries)); passage.ID != next {
		return fmt.Errorf("restore passage %d out of order: next id is %d", passage.ID, next)
	}
	m.append(passage.ID, passage, vector)
	return nil
}

func (m *MemoryIndex) append(id int64, passage models.Passage, vector []float32) {
	vec := make([]float32, m.dimensions)
	copy(vec, vector)
	passage.ID = id
	passage.Metadata = maps.Clone(passage.Metadata)
	m.entries = append(m.entries, entry{passage: passage, vector: vec})
}

// Search returns up to k passages whose metadata satisfies every filter,
// ordered by decreasing cosine similarity to query, ties by ascending id.
// No match yields an empty result, not an error.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filters map[string]string) ([]Result, error) {
	if err := checkVector(query, m.dimensions); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return []Result{}, nil
	}
	h := make(resultHeap, 0, min(k, len(m.entries)))
	for i := range m.entries {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		e := &m.entries[i]
		if !e.passage.Matches(filters) {
			continue
		}
		h.offer(scored{id: e.passage.ID, score: CosineSimilarity(query, e.vector)}, k)
	}
	hits := h.drain()
	results := make([]Result, len(hits))
	for i, s := range hits {
		results[i] = Result{Passage: &m.entries[s.id].passage, Score: s.score}
	}
	return results, nil
}

// Get returns the passage with the given id.
func (m *MemoryIndex) Get(id int64) (*models.Passage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 0 || id >= int64(len(m.entries)) {
		return nil, false
	}
	return &m.entries[id].passage, true
}

// Vector returns the stored vector for id.
func (m *MemoryIndex) Vector(id int64) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 0 || id >= int64(len(m.entries)) {
		return nil, false
	}
	return m.entries[id].vector, true
}

// Size returns the number of entries in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Dimensions returns the configured vector length.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}
