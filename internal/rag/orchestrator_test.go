package rag

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/prompt"
	"github.com/hyperjump/kotae/internal/vector"
)

const testDims = 64

type mapLoader map[string][]*models.Document

func (m mapLoader) Load(_ context.Context, source string) ([]*models.Document, error) {
	docs, ok := m[source]
	if !ok {
		return nil, errors.New("no such source: " + source)
	}
	return docs, nil
}

func textDoc(source, text string, meta map[string]string) *models.Document {
	return &models.Document{ID: "doc:" + source, Source: source, Title: source, Text: text, Metadata: meta}
}

// switchEmbedder fails query embeddings once failing is set.
type switchEmbedder struct {
	*embedding.MockEmbedder
	failing atomic.Bool
	block   atomic.Bool
}

func (s *switchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.block.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.failing.Load() {
		return nil, errors.New("provider unavailable")
	}
	return s.MockEmbedder.Embed(ctx, text)
}

type llmFunc func(ctx context.Context, prompt string) (string, error)

func (f llmFunc) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// roleClient records the system and user messages it receives.
type roleClient struct {
	system, user  string
	generateCalls int
}

func (c *roleClient) Generate(context.Context, string) (string, error) {
	c.generateCalls++
	return "", nil
}

func (c *roleClient) GenerateMessages(_ context.Context, system, user string) (string, error) {
	c.system, c.user = system, user
	return "On the mat.", nil
}

type fixture struct {
	orch     *Orchestrator
	embedder *switchEmbedder
	index    *vector.MemoryIndex
}

func newFixture(t *testing.T, docs mapLoader, client llm.Client, cfg Config, ropts ...RetrieverOption) *fixture {
	return newHybridFixture(t, docs, client, cfg, nil, ropts...)
}

func newHybridFixture(t *testing.T, docs mapLoader, client llm.Client, cfg Config, kw keyword.KeywordIndex, ropts ...RetrieverOption) *fixture {
	t.Helper()
	embedder := &switchEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDims)}
	index, err := vector.NewMemoryIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	splitter, err := indexer.NewCharacterSplitter(1000, 200)
	if err != nil {
		t.Fatal(err)
	}
	var ixOpts []indexer.IndexerOption
	if kw != nil {
		ixOpts = append(ixOpts, indexer.WithKeywordIndex(kw))
		ropts = append(ropts, WithHybrid(kw, 0.5, 0.5, 10))
	}
	ix := indexer.NewIndexer(docs, splitter, embedder, index, ixOpts...)
	retriever := NewRetriever(embedder, index, ropts...)
	if client == nil {
		client = llm.NewEchoClient()
	}
	orch := NewOrchestrator(cfg, ix, retriever, prompt.NewAssembler("Answer from the context."), client)
	return &fixture{orch: orch, embedder: embedder, index: index}
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	f := newFixture(t, mapLoader{"cat.txt": {textDoc("cat.txt", "The cat sat on the mat.", nil)}}, nil, Config{DefaultTopK: 4})
	ctx := context.Background()
	if _, err := f.orch.Ingest(ctx, "cat.txt"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	answer, err := f.orch.Answer(ctx, models.Query{Text: "Where did the cat sit?", TopK: 1})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(answer.Sources) != 1 || answer.Sources[0] != 0 {
		t.Errorf("Sources = %v, want [0]", answer.Sources)
	}
	if !strings.Contains(answer.Text, "[cat.txt] The cat sat on the mat.") || !strings.Contains(answer.Text, "Where did the cat sit?") {
		t.Errorf("echoed prompt missing passage or query:\n%s", answer.Text)
	}
}

func TestOrchestrator_StateMachine(t *testing.T) {
	docs := mapLoader{"a": {textDoc("a", "alpha", nil)}}
	f := newFixture(t, docs, nil, Config{})
	ctx := context.Background()

	if f.orch.State() != Indexing {
		t.Fatalf("initial state = %v", f.orch.State())
	}
	if _, err := f.orch.Answer(ctx, models.Query{Text: "alpha"}); !errors.Is(err, ErrNotServing) {
		t.Errorf("Answer while indexing: %v", err)
	}
	if _, err := f.orch.Retrieve(ctx, models.Query{Text: "alpha"}); !errors.Is(err, ErrNotServing) {
		t.Errorf("Retrieve while indexing: %v", err)
	}

	// A failed ingest keeps the orchestrator in Indexing.
	if _, err := f.orch.Ingest(ctx, "missing"); err == nil {
		t.Fatal("expected ingest error")
	}
	if f.orch.State() != Indexing {
		t.Errorf("state after failed ingest = %v", f.orch.State())
	}

	if _, err := f.orch.Ingest(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if f.orch.State() != Serving || f.orch.State().String() != "serving" {
		t.Errorf("state = %v", f.orch.State())
	}
	if _, err := f.orch.Ingest(ctx, "a"); !errors.Is(err, ErrAlreadyServing) {
		t.Errorf("Ingest while serving: %v", err)
	}
	if _, err := f.orch.Restore(ctx); !errors.Is(err, ErrAlreadyServing) {
		t.Errorf("Restore while serving: %v", err)
	}
	if err := f.orch.MarkServing(); !errors.Is(err, ErrAlreadyServing) {
		t.Errorf("MarkServing while serving: %v", err)
	}
}

func TestOrchestrator_MarkServingEmptyIndex(t *testing.T) {
	var prompts atomic.Int32
	client := llmFunc(func(_ context.Context, p string) (string, error) {
		prompts.Add(1)
		return "I don't know", nil
	})
	f := newFixture(t, mapLoader{}, client, Config{})
	if err := f.orch.MarkServing(); err != nil {
		t.Fatal(err)
	}
	answer, err := f.orch.Answer(context.Background(), models.Query{Text: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if answer.Text != "I don't know" || len(answer.Sources) != 0 {
		t.Errorf("answer = %+v", answer)
	}
	if prompts.Load() != 1 {
		t.Errorf("model called %d times, want 1", prompts.Load())
	}
}

func TestOrchestrator_QueryValidation(t *testing.T) {
	f := newFixture(t, mapLoader{}, nil, Config{DefaultTopK: 2, MaxTopK: 3})
	_ = f.orch.MarkServing()
	if _, err := f.orch.Answer(context.Background(), models.Query{Text: "  "}); !errors.Is(err, models.ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestOrchestrator_TopKAndFilters(t *testing.T) {
	docs := mapLoader{
		"lear":    {textDoc("lear", "The king divides his kingdom.", map[string]string{"play": "lear"})},
		"hamlet":  {textDoc("hamlet", "The king is poisoned in the garden.", map[string]string{"play": "hamlet"})},
		"tempest": {textDoc("tempest", "A storm wrecks the king's ship.", map[string]string{"play": "tempest"})},
	}
	f := newFixture(t, docs, nil, Config{DefaultTopK: 2, MaxTopK: 2})
	ctx := context.Background()
	if _, err := f.orch.Ingest(ctx, "lear", "hamlet", "tempest"); err != nil {
		t.Fatal(err)
	}

	results, err := f.orch.Retrieve(ctx, models.Query{Text: "king", TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("top_k should be capped at 2, got %d", len(results))
	}

	answer, err := f.orch.Answer(ctx, models.Query{Text: "king", Filters: map[string]string{"play": "hamlet"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(answer.Sources) != 1 || answer.Sources[0] != 1 {
		t.Errorf("filtered sources = %v, want [1]", answer.Sources)
	}

	none, err := f.orch.Answer(ctx, models.Query{Text: "king", Filters: map[string]string{"play": "macbeth"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(none.Sources) != 0 {
		t.Errorf("unmatched filter sources = %v", none.Sources)
	}
}

func TestOrchestrator_EmbeddingError(t *testing.T) {
	f := newFixture(t, mapLoader{"a": {textDoc("a", "alpha", nil)}}, nil, Config{})
	ctx := context.Background()
	if _, err := f.orch.Ingest(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	f.embedder.failing.Store(true)
	answer, err := f.orch.Answer(ctx, models.Query{Text: "alpha"})
	var ee *embedding.EmbeddingError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want EmbeddingError", err)
	}
	if answer != nil {
		t.Errorf("no partial answer expected, got %+v", answer)
	}
}

func TestOrchestrator_EmbedTimeout(t *testing.T) {
	f := newFixture(t, mapLoader{}, nil, Config{}, WithEmbedTimeout(10*time.Millisecond))
	_ = f.orch.MarkServing()
	f.embedder.block.Store(true)
	_, err := f.orch.Answer(context.Background(), models.Query{Text: "alpha"})
	var ee *embedding.EmbeddingError
	if !errors.As(err, &ee) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want EmbeddingError wrapping DeadlineExceeded", err)
	}
}

func TestOrchestrator_GenerationError(t *testing.T) {
	failing := llmFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model overloaded")
	})
	f := newFixture(t, mapLoader{}, failing, Config{})
	_ = f.orch.MarkServing()
	answer, err := f.orch.Answer(context.Background(), models.Query{Text: "alpha"})
	var ge *llm.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v, want GenerationError", err)
	}
	if answer != nil {
		t.Errorf("answer = %+v", answer)
	}
}

func TestOrchestrator_GenerationTimeout(t *testing.T) {
	slow := llmFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, mapLoader{}, slow, Config{GenerateTimeout: 10 * time.Millisecond})
	_ = f.orch.MarkServing()
	_, err := f.orch.Answer(context.Background(), models.Query{Text: "alpha"})
	var ge *llm.GenerationError
	if !errors.As(err, &ge) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want GenerationError wrapping DeadlineExceeded", err)
	}
}

func TestOrchestrator_AskCitations(t *testing.T) {
	long := strings.Repeat("word ", 100)
	f := newFixture(t, mapLoader{"a": {textDoc("a", long, nil)}}, nil, Config{})
	ctx := context.Background()
	if _, err := f.orch.Ingest(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	resp, err := f.orch.Ask(ctx, models.Query{Text: "  word  "})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Query != "word" {
		t.Errorf("Query = %q, want trimmed", resp.Query)
	}
	if len(resp.Citations) != len(resp.Sources) || len(resp.Citations) == 0 {
		t.Fatalf("citations = %+v", resp.Citations)
	}
	c := resp.Citations[0]
	if c.ID != resp.Sources[0] || c.Source != "a" || len([]rune(c.Snippet)) > snippetLength+3 {
		t.Errorf("citation = %+v", c)
	}
}

func TestOrchestrator_SendsPromptByRole(t *testing.T) {
	client := &roleClient{}
	f := newFixture(t, mapLoader{"cat.txt": {textDoc("cat.txt", "The cat sat on the mat.", nil)}}, client, Config{})
	ctx := context.Background()
	if _, err := f.orch.Ingest(ctx, "cat.txt"); err != nil {
		t.Fatal(err)
	}
	answer, err := f.orch.Answer(ctx, models.Query{Text: "Where did the cat sit?", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if answer.Text != "On the mat." {
		t.Errorf("Text = %q", answer.Text)
	}
	if client.generateCalls != 0 {
		t.Errorf("Generate called %d times, want messages only", client.generateCalls)
	}
	if client.system != "Answer from the context.\n\nContext:\n[cat.txt] The cat sat on the mat." {
		t.Errorf("system message = %q", client.system)
	}
	if client.user != "User Query:\nWhere did the cat sit?" {
		t.Errorf("user message = %q", client.user)
	}
}

func TestOrchestrator_AnswerAll(t *testing.T) {
	f := newFixture(t, mapLoader{"a": {textDoc("a", "alpha beta gamma", nil)}}, nil, Config{})
	ctx := context.Background()
	if _, err := f.orch.Ingest(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	queries := []models.Query{{Text: "first"}, {Text: "second"}, {Text: "third"}, {Text: "fourth"}}
	answers, err := f.orch.AnswerAll(ctx, queries, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != len(queries) {
		t.Fatalf("len = %d", len(answers))
	}
	for i, a := range answers {
		if !strings.HasSuffix(a.Text, "User Query:\n"+queries[i].Text) {
			t.Errorf("answer %d out of order: %q", i, a.Text)
		}
	}

	queries = append(queries, models.Query{Text: ""})
	if _, err := f.orch.AnswerAll(ctx, queries, 2); !errors.Is(err, models.ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestOrchestrator_HybridRetrieval(t *testing.T) {
	kw, err := keyword.NewBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	docs := mapLoader{
		"a": {textDoc("a", "Cordelia remains silent before the king.", nil)},
		"b": {textDoc("b", "Goneril flatters her father.", nil)},
	}
	f := newHybridFixture(t, docs, nil, Config{DefaultTopK: 2}, kw)
	ctx := context.Background()
	if _, err := f.orch.Ingest(ctx, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if !f.orch.Retriever().Hybrid() {
		t.Fatal("retriever should be hybrid")
	}
	results, err := f.orch.Retrieve(ctx, models.Query{Text: "Cordelia", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Passage.ID != 0 {
		t.Errorf("results = %+v, want passage 0", results)
	}
}
