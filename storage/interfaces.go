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

package storage

import (
	"context"

	"github.com/poiesic/memex/core"
)

// Store is the persisted index. All mutation goes through Commit; all
// reads go through a Snapshot pinned to one generation.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// Snapshot pins the latest committed generation.
	// The caller must Close the snapshot when done.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Commit applies a batch atomically and returns the new generation.
	// Returns ErrBatchTooLarge when the batch does not fit in one transaction;
	// nothing is written in that case.
	Commit(ctx context.Context, batch *Batch) (core.Generation, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// RecordReader provides record and session lookups.
type RecordReader interface {
	// Get retrieves a single record by doc id.
	// Returns ErrNotFound if the record doesn't exist in this generation.
	Get(ctx context.Context, id core.ID) (*core.Record, error)

	// Scan calls fn for every record in doc id order.
	Scan(ctx context.Context, fn func(*core.Record) error) error

	// Transcript returns all records of a session in original log order.
	// Returns ErrNotFound if the session has no records.
	Transcript(ctx context.Context, sessionID string) ([]*core.Record, error)
}

// PostingReader exposes the lexical index.
type PostingReader interface {
	// Postings returns the posting list of a token, sorted by doc id.
	// A token with no postings yields an empty list.
	Postings(ctx context.Context, token string) ([]Posting, error)

	// DocCount returns the number of indexed records.
	DocCount(ctx context.Context) (int64, error)
}

// VectorReader exposes the embedding store.
type VectorReader interface {
	// SimilaritySearch scores every stored vector against query by cosine
	// similarity. Results are ordered by score descending, ties by doc id.
	// k <= 0 returns all scored vectors.
	SimilaritySearch(ctx context.Context, query []float32, k int) ([]VectorHit, error)

	// VectorDimensions returns the dimension of stored vectors, 0 if none.
	VectorDimensions(ctx context.Context) (int, error)

	// MissingVectors returns up to limit doc ids that still need an embedding.
	// limit <= 0 returns all of them.
	MissingVectors(ctx context.Context, limit int) ([]core.ID, error)
}

// ManifestReader exposes per-file ingest state.
type ManifestReader interface {
	// Manifest returns every manifest entry keyed by file path.
	Manifest(ctx context.Context) (map[string]*core.ManifestEntry, error)
}

// Snapshot is a read view of one committed generation. It never observes
// later commits.
type Snapshot interface {
	RecordReader
	PostingReader
	VectorReader
	ManifestReader

	// Generation returns the pinned generation. Zero means nothing has
	// been committed yet.
	Generation() core.Generation

	// Close releases the snapshot.
	Close() error
}

// Posting is one (doc id, term frequency) entry of a posting list.
type Posting struct {
	DocID core.ID
	TF    uint32
}

// VectorHit is a doc id scored by cosine similarity.
type VectorHit struct {
	DocID core.ID
	Score float64
}

// FileUpdate is the change to the index contributed by one source file.
type FileUpdate struct {
	// Path identifies the source file.
	Path string

	// Entry is the new manifest entry. Nil removes the file and all of
	// its records from the index.
	Entry *core.ManifestEntry

	// Replace drops the file's previously indexed records before adding
	// Records. Used when a file is re-ingested from the start.
	Replace bool

	// Records are appended to the index.
	Records []*core.Record

	// Vectors holds embeddings for some or all of Records. Records without
	// a vector are marked as missing for later backfill.
	Vectors map[core.ID][]float32
}

// Batch is everything written by a single commit.
type Batch struct {
	Files []*FileUpdate

	// Backfill holds embeddings for records indexed by earlier commits.
	Backfill map[core.ID][]float32

	// Dimensions is the embedding dimension of the vectors in this batch,
	// or 0 when it carries none. A change from the stored dimension
	// discards every stored vector and marks all records missing.
	Dimensions int
}

// Empty reports whether the batch would write nothing.
func (b *Batch) Empty() bool {
	return b == nil || (len(b.Files) == 0 && len(b.Backfill) == 0)
}

// RecordCount returns the number of records added by the batch.
func (b *Batch) RecordCount() int {
	n := 0
	for _, f := range b.Files {
		n += len(f.Records)
	}
	return n
}
