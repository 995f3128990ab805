package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestEmbeddingCache_GetRefreshesRecency(t *testing.T) {
	c := NewEmbeddingCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a")
	c.Set("c", []float32{3}) // evicts b, not a
	if _, ok := c.Get("a"); !ok {
		t.Error("recently read a was evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
}

type countingEmbedder struct {
	*MockEmbedder
	embedCalls int
	batchTexts []string
	err        error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls++
	if c.err != nil {
		return nil, c.err
	}
	return c.MockEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchTexts = append(c.batchTexts, texts...)
	if c.err != nil {
		return nil, c.err
	}
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(16)}
	e := NewCachedEmbedder(inner, 10)

	first, err := e.Embed(ctx, "king lear")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Embed(ctx, "king lear")
	if err != nil {
		t.Fatal(err)
	}
	if inner.embedCalls != 1 {
		t.Errorf("inner Embed calls = %d, want 1", inner.embedCalls)
	}
	if &first[0] != &second[0] {
		t.Error("second call should return the cached vector")
	}

	vecs, err := e.EmbedBatch(ctx, []string{"king lear", "cordelia", "goneril"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("batch len = %d", len(vecs))
	}
	if len(inner.batchTexts) != 2 || inner.batchTexts[0] != "cordelia" || inner.batchTexts[1] != "goneril" {
		t.Errorf("inner batch texts = %v, want only misses", inner.batchTexts)
	}
	for i, v := range vecs {
		if len(v) != 16 {
			t.Errorf("vecs[%d] has %d dims", i, len(v))
		}
	}
	if e.Dimensions() != 16 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4), err: errors.New("provider down")}
	e := NewCachedEmbedder(inner, 10)
	if _, err := e.Embed(ctx, "x"); err == nil {
		t.Fatal("expected error")
	}
	inner.err = nil
	if _, err := e.Embed(ctx, "x"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if inner.embedCalls != 2 {
		t.Errorf("inner Embed calls = %d, want 2", inner.embedCalls)
	}
}

func TestNewCachedEmbedder_zeroCapacity(t *testing.T) {
	inner := NewMockEmbedder(4)
	if e := NewCachedEmbedder(inner, 0); e != Embedder(inner) {
		t.Error("zero capacity should return the wrapped embedder")
	}
}
