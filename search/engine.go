// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/lexical"
	"github.com/poiesic/memex/storage"
)

// QueryEmbedder turns query text into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Default fusion weights for hybrid mode.
const (
	DefaultLexicalWeight  = 0.5
	DefaultSemanticWeight = 0.5
)

// Engine runs queries against a pinned snapshot or a store.
type Engine struct {
	embedder       QueryEmbedder
	lexicalWeight  float64
	semanticWeight float64
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithEmbedder enables semantic and hybrid modes.
func WithEmbedder(embedder QueryEmbedder) Option {
	return func(e *Engine) error {
		e.embedder = embedder
		return nil
	}
}

// WithWeights sets the hybrid fusion weights.
func WithWeights(lexicalWeight, semanticWeight float64) Option {
	return func(e *Engine) error {
		if lexicalWeight < 0 || semanticWeight < 0 {
			return fmt.Errorf("%w: fusion weights must not be negative", core.ErrConfig)
		}
		e.lexicalWeight = lexicalWeight
		e.semanticWeight = semanticWeight
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates a query engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		lexicalWeight:  DefaultLexicalWeight,
		semanticWeight: DefaultSemanticWeight,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "search")
	return e, nil
}

// Search runs q against snap and returns ranked hits.
func (e *Engine) Search(ctx context.Context, snap storage.Snapshot, q Query) ([]core.ScoredHit, error) {
	return e.SearchWithMonitor(ctx, snap, q, nil)
}

// SearchWithMonitor runs q and reports each stage to monitor.
func (e *Engine) SearchWithMonitor(ctx context.Context, snap storage.Snapshot, q Query, monitor SearchMonitor) ([]core.ScoredHit, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	p, err := e.prepare(ctx, q, monitor)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, snap, p, monitor)
}

// SearchStore runs q against the latest generation of store. The query is
// embedded before the snapshot is pinned.
func (e *Engine) SearchStore(ctx context.Context, store storage.Store, q Query, monitor SearchMonitor) ([]core.ScoredHit, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	p, err := e.prepare(ctx, q, monitor)
	if err != nil {
		return nil, err
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return e.execute(ctx, snap, p, monitor)
}

// plan is a validated query with its vector resolved.
type plan struct {
	q      Query
	terms  []string
	mode   Mode
	list   bool
	vector []float32
}

// prepare validates q and embeds its text when the mode needs it. An
// unavailable embedding service degrades the query to relaxed lexical
// matching.
func (e *Engine) prepare(ctx context.Context, q Query, monitor SearchMonitor) (*plan, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Mode != ModeExact && e.embedder == nil {
		return nil, fmt.Errorf("%w: %s mode: %w", core.ErrQuery, q.Mode, core.ErrEmbeddingsDisabled)
	}

	monitor.Start(q)
	p := &plan{q: q, terms: lexical.QueryTerms(q.Text), mode: q.Mode}

	if strings.TrimSpace(q.Text) == "" || (q.Mode == ModeExact && len(p.terms) == 0) {
		if !q.Filters.Any() {
			return nil, ErrEmptyQuery
		}
		p.list = true
		return p, nil
	}

	if p.mode != ModeExact {
		vector, err := e.embedQuery(ctx, q.Text)
		if err != nil {
			if !errors.Is(err, core.ErrEmbeddingUnavailable) {
				return nil, err
			}
			e.logger.Warn("semantic scoring unavailable, using lexical scores", "err", err)
			monitor.SemanticUnavailable(err)
			p.mode = ModeExact
			p.q.Relaxed = true
		} else {
			p.vector = vector
		}
	}
	return p, nil
}

func (e *Engine) execute(ctx context.Context, snap storage.Snapshot, p *plan, monitor SearchMonitor) ([]core.ScoredHit, error) {
	if p.list {
		return e.list(ctx, snap, p.q, monitor)
	}

	var semantic map[core.ID]float64
	if p.vector != nil {
		var err error
		semantic, err = semanticScores(ctx, snap, p.vector)
		if err != nil {
			return nil, err
		}
		monitor.AfterSemanticSearch(len(semantic))
	}

	var lex map[core.ID]float64
	if p.mode != ModeSemantic {
		var err error
		all := p.mode == ModeExact && !p.q.Relaxed
		lex, err = lexical.NewIndex(snap, lexical.WithLogger(e.logger)).Search(ctx, p.terms, all)
		if err != nil {
			return nil, err
		}
		monitor.AfterLexicalSearch(p.terms, len(lex))
	}

	candidates, err := e.resolve(ctx, snap, p.q.Filters, lex, semantic)
	if err != nil {
		return nil, err
	}
	monitor.AfterFiltering(len(lex)+len(semantic), len(candidates))

	hits := fuse(p.mode, candidates, e.lexicalWeight, e.semanticWeight)
	return e.finish(p.q, SortScore, hits, monitor), nil
}

func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		if errors.Is(err, core.ErrEmbeddingUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	return vector, nil
}

// semanticScores scores every stored vector against the query vector.
// Only positive similarities count as matches.
func semanticScores(ctx context.Context, snap storage.Snapshot, vector []float32) (map[core.ID]float64, error) {
	hits, err := snap.SimilaritySearch(ctx, vector, 0)
	if err != nil {
		return nil, err
	}
	scores := make(map[core.ID]float64, len(hits))
	for _, h := range hits {
		if h.Score > 0 {
			scores[h.DocID] = h.Score
		}
	}
	return scores, nil
}

// resolve loads the records behind the scored ids and drops those that
// fail the filters. A score for a record missing from the snapshot means
// the index is corrupt.
func (e *Engine) resolve(ctx context.Context, snap storage.Snapshot, filters Filters, lex, semantic map[core.ID]float64) ([]core.ScoredHit, error) {
	ids := make(map[core.ID]struct{}, len(lex)+len(semantic))
	for id := range lex {
		ids[id] = struct{}{}
	}
	for id := range semantic {
		ids[id] = struct{}{}
	}

	hits := make([]core.ScoredHit, 0, len(ids))
	for id := range ids {
		record, err := snap.Get(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: scored doc %s has no record", core.ErrIndexCorruption, id)
			}
			return nil, err
		}
		if !filters.Match(record) {
			continue
		}
		hits = append(hits, core.ScoredHit{
			DocID:         id,
			LexicalScore:  lex[id],
			SemanticScore: semantic[id],
			Record:        record,
		})
	}
	return hits, nil
}

// list returns every record passing the filters with a zero score.
func (e *Engine) list(ctx context.Context, snap storage.Snapshot, q Query, monitor SearchMonitor) ([]core.ScoredHit, error) {
	var hits []core.ScoredHit
	scanned := 0
	err := snap.Scan(ctx, func(r *core.Record) error {
		scanned++
		if q.Filters.Match(r) {
			hits = append(hits, core.ScoredHit{DocID: r.DocID, Record: r})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	monitor.AfterFiltering(scanned, len(hits))
	return e.finish(q, SortTime, hits, monitor), nil
}

// finish applies the score threshold, grouping, sorting and limit.
func (e *Engine) finish(q Query, fallback SortOrder, hits []core.ScoredHit, monitor SearchMonitor) []core.ScoredHit {
	if q.Filters.MinScore != 0 {
		kept := hits[:0]
		for _, h := range hits {
			if h.CombinedScore >= q.Filters.MinScore {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	if n := q.perSession(); n > 0 {
		hits = groupBySession(hits, n)
		monitor.AfterGrouping(len(hits))
	}

	order := q.Sort
	if order == SortDefault {
		order = fallback
	}
	sortHits(hits, order)

	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	if hits == nil {
		hits = []core.ScoredHit{}
	}
	monitor.Finish(hits)
	return hits
}
