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

package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/embedding"
	"github.com/poiesic/memex/ingest"
	"github.com/poiesic/memex/storage"
)

const (
	// DefaultCommitFiles is the number of changed files staged per commit.
	DefaultCommitFiles = 256

	// embedChunk is the number of records embedded before checking that
	// the embedding service is still answering.
	embedChunk = 1024
)

// Indexer brings the index up to date with the log files on disk.
// Sync calls are serialized; parsing runs on a worker pool and a single
// goroutine commits.
type Indexer struct {
	store       storage.Store
	roots       []SourceRoot
	parsers     map[core.Source]ingest.Parser
	generator   *embedding.Generator
	pool        *ants.Pool
	commitFiles int
	progress    io.Writer
	logger      *slog.Logger
	mu          sync.Mutex
}

// Option configures an Indexer.
type Option func(*Indexer) error

// WithPoolSize sets the number of files parsed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(ix *Indexer) error {
		if size < 1 {
			size = 1
		}
		if ix.pool != nil {
			ix.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		ix.pool = pool
		return nil
	}
}

// WithGenerator enables embeddings. Without it records are indexed for
// lexical search only.
func WithGenerator(g *embedding.Generator) Option {
	return func(ix *Indexer) error {
		ix.generator = g
		return nil
	}
}

// WithCommitFiles sets how many changed files are staged per commit.
func WithCommitFiles(n int) Option {
	return func(ix *Indexer) error {
		if n < 1 {
			n = 1
		}
		ix.commitFiles = n
		return nil
	}
}

// WithProgress sets where backfill progress is written.
func WithProgress(w io.Writer) Option {
	return func(ix *Indexer) error {
		ix.progress = w
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger
		return nil
	}
}

// NewIndexer creates an indexer over the given source roots.
func NewIndexer(store storage.Store, roots []SourceRoot, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if len(roots) == 0 {
		return nil, ErrNoSources
	}

	ix := &Indexer{
		store:       store,
		roots:       roots,
		commitFiles: DefaultCommitFiles,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			ix.Release()
			return nil, err
		}
	}
	if ix.pool == nil {
		pool, err := ants.NewPool(max(runtime.NumCPU()/2, 1))
		if err != nil {
			return nil, err
		}
		ix.pool = pool
	}
	ix.logger = ix.logger.With("component", "indexer")

	ix.parsers = make(map[core.Source]ingest.Parser)
	for _, root := range roots {
		if _, ok := ix.parsers[root.Source]; ok {
			continue
		}
		parser, err := ingest.ForSource(root.Source, ingest.WithLogger(ix.logger))
		if err != nil {
			ix.Release()
			return nil, err
		}
		ix.parsers[root.Source] = parser
	}
	return ix, nil
}

// Release stops the worker pool. The indexer should not be used after.
func (ix *Indexer) Release() {
	if ix.pool != nil {
		ix.pool.Release()
	}
}

// Sync indexes new and changed files, drops files that disappeared and
// backfills missing embeddings. When nothing changed, nothing is written
// and the current generation is returned.
func (ix *Indexer) Sync(ctx context.Context) (core.Generation, Stats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var stats Stats

	snap, err := ix.store.Snapshot(ctx)
	if err != nil {
		return 0, stats, err
	}
	stats.Generation = snap.Generation()
	manifest, err := snap.Manifest(ctx)
	snap.Close()
	if err != nil {
		return 0, stats, err
	}

	found, err := discover(ctx, ix.roots)
	if err != nil {
		return 0, stats, err
	}
	work, unchanged := plan(found, manifest)
	stats.FilesScanned = len(found)
	stats.FilesSkipped = unchanged

	for start := 0; start < len(work); start += ix.commitFiles {
		group := work[start:min(start+ix.commitFiles, len(work))]
		groupStats, err := ix.syncGroup(ctx, group)
		stats.add(groupStats)
		if err != nil {
			return stats.Generation, stats, err
		}
	}

	if ix.generator != nil {
		if err := ix.backfill(ctx, &stats); err != nil {
			return stats.Generation, stats, err
		}
	}

	if stats.Changed() {
		ix.logger.Info("sync complete",
			"generation", stats.Generation,
			"added", stats.FilesAdded,
			"appended", stats.FilesAppended,
			"reingested", stats.FilesReingested,
			"removed", stats.FilesRemoved,
			"records", stats.RecordsParsed,
			"embedded", stats.EmbeddingsWritten)
	} else {
		ix.logger.Debug("index up to date", "generation", stats.Generation, "files", stats.FilesScanned)
	}
	return stats.Generation, stats, nil
}

// syncGroup parses a group of units in parallel, embeds their records
// and commits them.
func (ix *Indexer) syncGroup(ctx context.Context, group []*unit) (Stats, error) {
	var stats Stats

	results := make([]parsed, len(group))
	var wg sync.WaitGroup
	for i, u := range group {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = parseUnit(ctx, ix.parsers[u.source], u)
		}
		if u.mode == modeRemove {
			task()
			continue
		}
		if err := ix.pool.Submit(task); err != nil {
			wg.Done()
			results[i] = parsed{unit: u, err: err}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	var updates []*storage.FileUpdate
	for _, res := range results {
		if res.err != nil {
			stats.FilesFailed++
			ix.logger.Warn("skipping file", "path", res.unit.path, "err", res.err)
			continue
		}
		switch res.unit.mode {
		case modeAdd:
			stats.FilesAdded++
		case modeAppend:
			stats.FilesAppended++
		case modeReingest:
			stats.FilesReingested++
		case modeRemove:
			stats.FilesRemoved++
		}
		if res.unit.prior != nil && (res.unit.mode == modeReingest || res.unit.mode == modeRemove) {
			stats.RecordsRemoved += res.unit.prior.Records
		}
		stats.RecordsParsed += len(res.update.Records)
		stats.LinesSkipped += res.skipped
		updates = append(updates, res.update)
	}
	if len(updates) == 0 {
		return stats, nil
	}

	dims, err := ix.embed(ctx, updates, &stats)
	if err != nil {
		return stats, err
	}

	gen, commits, err := ix.commit(ctx, updates, dims)
	stats.Commits += commits
	stats.Generation = gen
	return stats, err
}

// embed attaches vectors to the records of the updates. Records left
// without a vector are marked missing by the store and backfilled later.
func (ix *Indexer) embed(ctx context.Context, updates []*storage.FileUpdate, stats *Stats) (int, error) {
	if ix.generator == nil {
		return 0, nil
	}

	var items []embedding.Item
	owner := make(map[core.ID]*storage.FileUpdate)
	for _, u := range updates {
		for _, r := range u.Records {
			items = append(items, embedding.Item{ID: r.DocID, Text: r.Text})
			owner[r.DocID] = u
		}
	}

	dims := 0
	for start := 0; start < len(items); start += embedChunk {
		chunk := items[start:min(start+embedChunk, len(items))]
		result, err := ix.generator.Embed(ctx, chunk)
		if err != nil {
			return 0, err
		}
		if dims == 0 {
			dims = result.Dimensions
		}
		for id, v := range result.Vectors {
			if len(v) != dims {
				result.Failed++
				continue
			}
			u := owner[id]
			if u.Vectors == nil {
				u.Vectors = make(map[core.ID][]float32)
			}
			u.Vectors[id] = v
			stats.EmbeddingsWritten++
		}
		stats.EmbeddingsFailed += result.Failed
		if len(result.Vectors) == 0 && result.Failed > 0 {
			rest := len(items) - start - len(chunk)
			stats.EmbeddingsFailed += rest
			ix.logger.Warn("embedding service unavailable, indexing lexically", "pending", result.Failed+rest, "err", result.Err)
			break
		}
	}
	return dims, nil
}

// commit writes the updates, splitting them into several generations when
// they do not fit in one transaction.
func (ix *Indexer) commit(ctx context.Context, updates []*storage.FileUpdate, dims int) (core.Generation, int, error) {
	gen, err := ix.store.Commit(ctx, &storage.Batch{Files: updates, Dimensions: dims})
	if err == nil {
		return gen, 1, nil
	}
	if !errors.Is(err, storage.ErrBatchTooLarge) {
		return 0, 0, err
	}

	var head, tail []*storage.FileUpdate
	if len(updates) > 1 {
		mid := len(updates) / 2
		head, tail = updates[:mid], updates[mid:]
	} else {
		h, t, err := ix.splitFile(ctx, updates[0])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", storage.ErrBatchTooLarge, err)
		}
		head, tail = []*storage.FileUpdate{h}, []*storage.FileUpdate{t}
	}
	ix.logger.Debug("batch too large, splitting", "files", len(updates))

	gen, first, err := ix.commit(ctx, head, dims)
	if err != nil {
		return gen, first, err
	}
	gen, second, err := ix.commit(ctx, tail, dims)
	return gen, first + second, err
}

func (ix *Indexer) splitFile(ctx context.Context, u *storage.FileUpdate) (*storage.FileUpdate, *storage.FileUpdate, error) {
	if u.Entry == nil {
		return nil, nil, fmt.Errorf("removal of %s does not fit in one transaction", u.Path)
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return splitUpdate(ctx, ix.parsers[u.Entry.Source], f, u)
}

// backfill embeds records left without vectors by earlier syncs.
func (ix *Indexer) backfill(ctx context.Context, stats *Stats) error {
	snap, err := ix.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	missing, err := snap.MissingVectors(ctx, 1)
	snap.Close()
	if err != nil || len(missing) == 0 {
		return err
	}
	// Records that just failed are not retried in the same sync.
	if stats.EmbeddingsFailed > 0 {
		return nil
	}

	r, err := embedding.NewReembedder(ix.store, ix.generator, nil, ix.progress, ix.logger)
	if err != nil {
		return err
	}
	bs, err := r.Backfill(ctx)
	if err != nil {
		return err
	}
	stats.EmbeddingsWritten += bs.Embedded
	stats.EmbeddingsFailed += bs.Failed
	if bs.Embedded > 0 {
		stats.Generation = bs.Generation
		stats.Commits++
	}
	return nil
}
