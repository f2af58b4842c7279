package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/memex/ai"
	"github.com/poiesic/memex/core"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding call.
	DefaultBatchSize = 64

	// DefaultWorkers is the number of embedding calls in flight.
	DefaultWorkers = 2
)

// Item is a text awaiting an embedding.
type Item struct {
	ID   core.ID
	Text string
}

// Result collects the outcome of embedding a set of items.
type Result struct {
	// Vectors holds an embedding for every item whose batch succeeded.
	Vectors map[core.ID][]float32

	// Dimensions is the length of the vectors, 0 when none were produced.
	Dimensions int

	// Failed counts items left without a vector.
	Failed int

	// Err is the last batch failure, if any.
	Err error
}

// Generator embeds texts in batches on a worker pool. A batch that still
// fails after retries leaves its items without vectors rather than
// failing the whole call.
type Generator struct {
	embedder  ai.Embedder
	pool      *ants.Pool
	batchSize int
	workers   int
	retry     RetryPolicy
	logger    *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator) error

// WithBatchSize sets the number of texts per embedding call.
func WithBatchSize(size int) Option {
	return func(g *Generator) error {
		if size < 1 {
			size = 1
		}
		g.batchSize = size
		return nil
	}
}

// WithWorkers sets the number of concurrent embedding calls.
func WithWorkers(n int) Option {
	return func(g *Generator) error {
		if n < 1 {
			n = 1
		}
		g.workers = n
		return nil
	}
}

// WithRetryPolicy sets the retry policy applied to each batch.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(g *Generator) error {
		if policy.MaxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		g.retry = policy
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
		return nil
	}
}

// NewGenerator creates a Generator. Call Release when done.
func NewGenerator(embedder ai.Embedder, opts ...Option) (*Generator, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	g := &Generator{
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
		retry:     DefaultRetryPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	pool, err := ants.NewPool(g.workers)
	if err != nil {
		return nil, err
	}
	g.pool = pool
	g.logger = g.logger.With("component", "embedding")
	return g, nil
}

// Release stops the worker pool.
func (g *Generator) Release() {
	g.pool.Release()
}

// EmbedQuery embeds a single query text with the same retry policy.
func (g *Generator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		vector, err = g.embedder.EmbedText(ctx, text)
		return err
	}, g.retry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	return vector, nil
}

type batchOutcome struct {
	index   int
	items   []Item
	vectors [][]float32
	err     error
}

// Embed generates vectors for items. It only returns an error when the
// context ends; embedding failures are reported through Result.
func (g *Generator) Embed(ctx context.Context, items []Item) (*Result, error) {
	result := &Result{Vectors: make(map[core.ID][]float32, len(items))}
	if len(items) == 0 {
		return result, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []batchOutcome
	)
	for index, start := 0, 0; start < len(items); index, start = index+1, start+g.batchSize {
		batch := items[start:min(start+g.batchSize, len(items))]
		wg.Add(1)
		err := g.pool.Submit(func() {
			defer wg.Done()
			out := g.embedBatch(ctx, index, batch)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			outcomes = append(outcomes, batchOutcome{index: index, items: batch, err: err})
			mu.Unlock()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Settle the dimension from the earliest successful batch so the
	// outcome does not depend on scheduling.
	first := -1
	for _, out := range outcomes {
		if out.err == nil && len(out.vectors) > 0 && (first < 0 || out.index < first) {
			first = out.index
			result.Dimensions = len(out.vectors[0])
		}
	}

	for _, out := range outcomes {
		if out.err != nil {
			result.Failed += len(out.items)
			result.Err = out.err
			continue
		}
		for i, item := range out.items {
			v := out.vectors[i]
			if len(v) == 0 || len(v) != result.Dimensions {
				result.Failed++
				result.Err = fmt.Errorf("%w: vector of length %d, expected %d", core.ErrEmbeddingUnavailable, len(v), result.Dimensions)
				continue
			}
			result.Vectors[item.ID] = v
		}
	}

	if result.Failed > 0 {
		g.logger.Warn("embedding degraded to lexical-only for some records",
			"failed", result.Failed, "total", len(items), "err", result.Err)
	}
	return result, nil
}

func (g *Generator) embedBatch(ctx context.Context, index int, items []Item) batchOutcome {
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}

	var vectors [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		vectors, err = g.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return Permanent(fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(vectors)))
		}
		return nil
	}, g.retry)
	if err != nil {
		return batchOutcome{index: index, items: items, err: fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)}
	}
	return batchOutcome{index: index, items: items, vectors: vectors}
}
