package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/prompt"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

var (
	// ErrNotServing is returned by queries made before indexing finished.
	ErrNotServing = errors.New("orchestrator is still indexing")
	// ErrAlreadyServing is returned by ingestion after serving started.
	ErrAlreadyServing = errors.New("orchestrator is already serving")
)

const snippetLength = 200

// State is the orchestrator lifecycle phase.
type State int

const (
	// Indexing accepts ingestion and rejects queries.
	Indexing State = iota
	// Serving answers queries; the index no longer changes.
	Serving
)

func (s State) String() string {
	switch s {
	case Indexing:
		return "indexing"
	case Serving:
		return "serving"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds orchestrator settings. It is copied at construction.
type Config struct {
	DefaultTopK     int
	MaxTopK         int
	GenerateTimeout time.Duration
}

// Orchestrator runs the retrieve, assemble, generate loop over an index
// built during the Indexing phase.
type Orchestrator struct {
	cfg       Config
	indexer   *indexer.Indexer
	retriever *Retriever
	assembler *prompt.Assembler
	llm       llm.Client
	logger    *zap.Logger

	ingestMu sync.Mutex
	mu       sync.RWMutex
	state    State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = utils.LoggerOrNop(l) }
}

// NewOrchestrator returns an Orchestrator in the Indexing state.
func NewOrchestrator(cfg Config, ix *indexer.Indexer, retriever *Retriever, assembler *prompt.Assembler, client llm.Client, opts ...Option) *Orchestrator {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 4
	}
	o := &Orchestrator{
		cfg:       cfg,
		indexer:   ix,
		retriever: retriever,
		assembler: assembler,
		llm:       client,
		logger:    zap.NewNop(),
		state:     Indexing,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Config returns the orchestrator settings.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Retriever returns the retriever queries go through.
func (o *Orchestrator) Retriever() *Retriever {
	return o.retriever
}

func (o *Orchestrator) requireState(want State) error {
	if got := o.State(); got != want {
		if got == Serving {
			return ErrAlreadyServing
		}
		return ErrNotServing
	}
	return nil
}

// Restore rebuilds the index from the passage store. It does not change state.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()
	if err := o.requireState(Indexing); err != nil {
		return 0, err
	}
	return o.indexer.Restore(ctx)
}

// Ingest indexes every source and then switches to Serving. On error the
// orchestrator stays in Indexing.
func (o *Orchestrator) Ingest(ctx context.Context, sources ...string) (indexer.Stats, error) {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()
	if err := o.requireState(Indexing); err != nil {
		return indexer.Stats{}, err
	}
	stats, err := o.indexer.Ingest(ctx, sources...)
	if err != nil {
		return stats, err
	}
	o.setServing()
	return stats, nil
}

// MarkServing ends the Indexing phase without ingesting anything.
func (o *Orchestrator) MarkServing() error {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()
	if err := o.requireState(Indexing); err != nil {
		return err
	}
	o.setServing()
	return nil
}

func (o *Orchestrator) setServing() {
	o.mu.Lock()
	o.state = Serving
	o.mu.Unlock()
	o.logger.Info("Orchestrator serving")
}

// Retrieve validates q and returns its scored passages without generating.
func (o *Orchestrator) Retrieve(ctx context.Context, q models.Query) ([]vector.Result, error) {
	if err := o.prepare(&q); err != nil {
		return nil, err
	}
	return o.retriever.RetrieveScored(ctx, q)
}

func (o *Orchestrator) prepare(q *models.Query) error {
	if err := o.requireState(Serving); err != nil {
		return err
	}
	return q.Validate(o.cfg.DefaultTopK, o.cfg.MaxTopK)
}

// Answer retrieves passages for q, assembles the prompt and generates the
// answer. Generation runs even when no passage was retrieved. Failures
// return no answer: embedder failures as *embedding.EmbeddingError and
// model failures as *llm.GenerationError.
func (o *Orchestrator) Answer(ctx context.Context, q models.Query) (*models.Answer, error) {
	resp, err := o.Ask(ctx, q)
	if err != nil {
		return nil, err
	}
	return &models.Answer{Text: resp.Answer, Sources: resp.Sources}, nil
}

// Ask is Answer with citations and timing.
func (o *Orchestrator) Ask(ctx context.Context, q models.Query) (*models.AskResponse, error) {
	start := time.Now()
	if err := o.prepare(&q); err != nil {
		return nil, err
	}
	results, err := o.retriever.RetrieveScored(ctx, q)
	if err != nil {
		return nil, err
	}

	passages := make([]models.Passage, len(results))
	sources := make([]int64, len(results))
	for i, r := range results {
		passages[i] = *r.Passage
		sources[i] = r.Passage.ID
	}
	text, err := o.generate(ctx, o.assembler.Build(q.Text, passages))
	if err != nil {
		return nil, err
	}
	o.logger.Debug("Answered query",
		zap.String("query", q.Text),
		zap.Int("passages", len(passages)),
		zap.Duration("elapsed", time.Since(start)))
	return &models.AskResponse{
		Answer:    text,
		Sources:   sources,
		Citations: Citations(results),
		QueryTime: time.Since(start).Milliseconds(),
		Query:     q.Text,
	}, nil
}

// generate sends p by role when the client supports it, as one prompt otherwise.
func (o *Orchestrator) generate(ctx context.Context, p prompt.Prompt) (string, error) {
	if o.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.GenerateTimeout)
		defer cancel()
	}
	var text string
	var err error
	if mc, ok := o.llm.(llm.MessageClient); ok {
		text, err = mc.GenerateMessages(ctx, p.System, p.User)
	} else {
		text, err = o.llm.Generate(ctx, p.String())
	}
	if err != nil {
		var ge *llm.GenerationError
		if errors.As(err, &ge) {
			return "", err
		}
		return "", &llm.GenerationError{Err: err}
	}
	return text, nil
}

// AnswerAll answers queries on at most workers goroutines. Answers keep the
// order of queries; the first error cancels the remaining work.
func (o *Orchestrator) AnswerAll(ctx context.Context, queries []models.Query, workers int) ([]*models.Answer, error) {
	if err := o.requireState(Serving); err != nil {
		return nil, err
	}
	answers := make([]*models.Answer, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, q := range queries {
		g.Go(func() error {
			a, err := o.Answer(gctx, q)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			answers[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return answers, nil
}

// Citations expands retrieval results for display.
func Citations(results []vector.Result) []models.Citation {
	citations := make([]models.Citation, len(results))
	for i, r := range results {
		citations[i] = models.Citation{
			ID:      r.Passage.ID,
			Source:  r.Passage.Source,
			Text:    r.Passage.Text,
			Score:   r.Score,
			Snippet: utils.Truncate(r.Passage.Text, snippetLength),
		}
	}
	return citations
}
