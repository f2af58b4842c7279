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

package memex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/memex/ai"
	"github.com/poiesic/memex/ai/openai"
	"github.com/poiesic/memex/config"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/embedding"
	"github.com/poiesic/memex/indexer"
	"github.com/poiesic/memex/search"
	"github.com/poiesic/memex/storage"
	"github.com/poiesic/memex/storage/badger"
)

// Memex is an open index together with the services that read and
// write it.
type Memex struct {
	cfg       *config.Config
	store     *badger.Store
	lock      *indexer.Lock
	provider  ai.Provider
	generator *embedding.Generator
	progress  io.Writer
	logger    *slog.Logger
}

// Option configures how a Memex is opened.
type Option func(*options)

type options struct {
	provider ai.Provider
	progress io.Writer
	logger   *slog.Logger
}

// WithProvider supplies the embedding provider instead of connecting to
// the configured service.
func WithProvider(provider ai.Provider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithProgress sets where long-running embedding work reports progress.
func WithProgress(w io.Writer) Option {
	return func(o *options) {
		o.progress = w
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// OpenWriter takes the writer lock and opens the index for writing.
func OpenWriter(ctx context.Context, cfg *config.Config, opts ...Option) (*Memex, error) {
	o := buildOptions(opts)

	lock, err := indexer.AcquireLock(ctx, cfg.Root, cfg.LockTimeout.Duration)
	if err != nil {
		return nil, err
	}
	store, err := badger.Open(badger.Options{
		Path:        cfg.IndexPath(),
		BusyTimeout: cfg.LockTimeout.Duration,
		Logger:      o.logger,
	})
	if err != nil {
		lock.Release()
		return nil, err
	}

	m := &Memex{cfg: cfg, store: store, lock: lock, progress: o.progress, logger: o.logger}
	if err := m.initEmbeddings(o); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// OpenReader opens the index read-only. It never takes the writer lock.
// The database is held only while a query runs, and a commit in flight
// in another process is waited out for up to the lock timeout.
func OpenReader(cfg *config.Config, opts ...Option) (*Memex, error) {
	o := buildOptions(opts)

	store, err := badger.Open(badger.Options{
		Path:        cfg.IndexPath(),
		ReadOnly:    true,
		BusyTimeout: cfg.LockTimeout.Duration,
		Logger:      o.logger,
	})
	if err != nil {
		return nil, err
	}
	m := &Memex{cfg: cfg, store: store, progress: o.progress, logger: o.logger}
	if err := m.initEmbeddings(o); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (m *Memex) initEmbeddings(o options) error {
	if !m.cfg.Embeddings {
		return nil
	}
	provider := o.provider
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(m.cfg.AIConfig(), openai.WithLogger(m.logger))
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrConfig, err)
		}
	}
	m.provider = provider

	generator, err := embedding.NewGenerator(provider.Embedder(),
		embedding.WithBatchSize(m.cfg.EmbeddingBatchSize),
		embedding.WithLogger(m.logger))
	if err != nil {
		return err
	}
	m.generator = generator
	return nil
}

// Close releases the database, the embedding workers and the lock.
func (m *Memex) Close() error {
	var errs []error
	if m.generator != nil {
		m.generator.Release()
	}
	if m.provider != nil {
		if err := m.provider.Close(); err != nil {
			m.logger.Error("error closing AI provider", "err", err)
		}
	}
	if err := m.store.Close(); err != nil {
		m.logger.Error("error closing index", "err", err)
		errs = append(errs, err)
	}
	if m.lock != nil {
		if err := m.lock.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SourceRoots converts the configured sources for the indexer.
func SourceRoots(cfg *config.Config) ([]indexer.SourceRoot, error) {
	roots := make([]indexer.SourceRoot, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		source, err := core.ParseSource(s.Format)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrConfig, err)
		}
		roots = append(roots, indexer.SourceRoot{Path: s.Path, Source: source})
	}
	return roots, nil
}

// NewIndexer creates an indexer writing to this index.
func (m *Memex) NewIndexer(opts ...indexer.Option) (*indexer.Indexer, error) {
	if m.lock == nil {
		return nil, storage.ErrReadOnly
	}
	roots, err := SourceRoots(m.cfg)
	if err != nil {
		return nil, err
	}
	base := []indexer.Option{indexer.WithLogger(m.logger), indexer.WithProgress(m.progress)}
	if m.generator != nil {
		base = append(base, indexer.WithGenerator(m.generator))
	}
	return indexer.NewIndexer(m.store, roots, append(base, opts...)...)
}

// Sync brings the index up to date with the configured sources.
func (m *Memex) Sync(ctx context.Context) (core.Generation, indexer.Stats, error) {
	ix, err := m.NewIndexer()
	if err != nil {
		return 0, indexer.Stats{}, err
	}
	defer ix.Release()
	return ix.Sync(ctx)
}

// NewEngine creates a query engine using the configured fusion weights.
func (m *Memex) NewEngine(opts ...search.Option) (*search.Engine, error) {
	base := []search.Option{
		search.WithLogger(m.logger),
		search.WithWeights(m.cfg.HybridLexicalWeight, m.cfg.HybridSemanticWeight),
	}
	if m.generator != nil {
		base = append(base, search.WithEmbedder(m.generator))
	}
	return search.NewEngine(append(base, opts...)...)
}

// Search runs a query against the latest generation.
func (m *Memex) Search(ctx context.Context, q search.Query, monitor search.SearchMonitor) ([]core.ScoredHit, error) {
	engine, err := m.NewEngine()
	if err != nil {
		return nil, err
	}
	return engine.SearchStore(ctx, m.store, q, monitor)
}

// Transcript returns every record of a session in log order.
func (m *Memex) Transcript(ctx context.Context, sessionID string) ([]*core.Record, error) {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return snap.Transcript(ctx, sessionID)
}

// Get returns one record.
func (m *Memex) Get(ctx context.Context, id core.ID) (*core.Record, error) {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return snap.Get(ctx, id)
}

// Reembed regenerates every stored vector.
func (m *Memex) Reembed(ctx context.Context) (embedding.Stats, error) {
	if m.generator == nil {
		return embedding.Stats{}, fmt.Errorf("%w: %w", core.ErrConfig, core.ErrEmbeddingsDisabled)
	}
	if m.lock == nil {
		return embedding.Stats{}, storage.ErrReadOnly
	}
	r, err := embedding.NewReembedder(m.store, m.generator, nil, m.progress, m.logger)
	if err != nil {
		return embedding.Stats{}, err
	}
	return r.Run(ctx)
}
