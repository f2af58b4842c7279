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

package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/storage"
)

// Store implements storage.Store for BadgerDB. Every commit is one
// badger transaction, so a generation is either fully visible or not at all.
//
// An on-disk store holds the database open only while a snapshot or a
// commit is in flight. Between them the directory lock is free, so other
// processes can open the same index.
type Store struct {
	opts     Options
	mu       sync.Mutex // guards backend, refs and closed
	commitMu sync.Mutex // serializes commits
	backend  *Backend
	refs     int
	closed   bool
	logger   *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// busyRetryInterval is the pause between attempts to take a held
// directory lock.
const busyRetryInterval = 25 * time.Millisecond

// Open opens the index database described by opts. The database is
// opened once to validate its format and then released.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{opts: opts, logger: logger.With("component", "store")}
	backend, err := s.acquire(context.Background())
	if err != nil {
		return nil, err
	}
	s.release(backend)
	return s, nil
}

// Close closes the underlying database. With snapshots still open, the
// database closes when the last of them does.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.backend == nil || s.refs > 0 {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

// acquire returns the open backend, opening it when no other snapshot or
// commit holds it. A directory lock held by another process is retried
// until opts.BusyTimeout elapses.
func (s *Store) acquire(ctx context.Context) (*Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrStorageClosed
	}
	if s.backend == nil {
		backend, err := s.openBackend(ctx)
		if err != nil {
			return nil, err
		}
		s.backend = backend
	}
	s.refs++
	return s.backend, nil
}

func (s *Store) openBackend(ctx context.Context) (*Backend, error) {
	deadline := time.Now().Add(s.opts.BusyTimeout)
	for {
		backend, err := OpenBackend(s.opts)
		if err == nil || !errors.Is(err, core.ErrIndexBusy) || !time.Now().Before(deadline) {
			return backend, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(busyRetryInterval):
		}
	}
}

// release drops one reference taken by acquire. The last reference closes
// an on-disk database.
func (s *Store) release(backend *Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != backend {
		return
	}
	s.refs--
	if s.refs > 0 || (s.opts.InMemory && !s.closed) {
		return
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Warn("closing database", "error", err)
	}
	s.backend = nil
}

// snapshot is a read transaction pinned at one generation.
type snapshot struct {
	tx      *badger.Txn
	gen     core.Generation
	release func()
	once    sync.Once
}

var _ storage.Snapshot = (*snapshot)(nil)

// Snapshot pins the latest committed generation.
func (s *Store) Snapshot(ctx context.Context) (storage.Snapshot, error) {
	backend, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx := backend.db.NewTransaction(false)
	gen, err := readCounter(tx, generationKey)
	if err != nil {
		tx.Discard()
		s.release(backend)
		return nil, err
	}
	return &snapshot{
		tx:      tx,
		gen:     core.Generation(gen),
		release: func() { s.release(backend) },
	}, nil
}

// Generation returns the pinned generation.
func (s *snapshot) Generation() core.Generation {
	return s.gen
}

// Close releases the read transaction.
func (s *snapshot) Close() error {
	s.once.Do(func() {
		s.tx.Discard()
		s.release()
	})
	return nil
}

// Commit applies a batch in a single transaction and publishes a new
// generation. An empty batch writes nothing and returns the current one.
func (s *Store) Commit(ctx context.Context, batch *storage.Batch) (core.Generation, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	backend, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer s.release(backend)
	if backend.ReadOnly() {
		return 0, storage.ErrReadOnly
	}

	var gen core.Generation
	err = backend.WithTx(func(tx *badger.Txn) error {
		current, err := readCounter(tx, generationKey)
		if err != nil {
			return err
		}
		gen = core.Generation(current)
		if batch.Empty() {
			return nil
		}
		gen++

		w := &commitWriter{tx: tx, gen: gen, lex: newPostingDelta()}
		if err := w.write(batch); err != nil {
			return err
		}

		// Abandon staged work if the caller gave up before the commit point.
		if err := ctx.Err(); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return 0, fmt.Errorf("%w: %d files, %d records", storage.ErrBatchTooLarge, len(batch.Files), batch.RecordCount())
		}
		return 0, err
	}

	if !batch.Empty() {
		s.logger.Debug("committed generation",
			"generation", gen,
			"files", len(batch.Files),
			"records", batch.RecordCount(),
			"backfill", len(batch.Backfill))
	}
	return gen, nil
}

// commitWriter stages one batch inside a write transaction.
type commitWriter struct {
	tx  *badger.Txn
	gen core.Generation
	lex *postingDelta
}

func (w *commitWriter) write(batch *storage.Batch) error {
	if err := w.tx.Set([]byte(formatKey), storage.MarshalUint64(formatVersion)); err != nil {
		return err
	}
	if err := w.setDimensions(batchDimensions(batch)); err != nil {
		return err
	}

	for _, f := range batch.Files {
		if err := w.writeFile(f); err != nil {
			return fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}

	for id, vector := range batch.Backfill {
		record, err := readRecord(w.tx, id)
		if err != nil {
			return err
		}
		// The record may have been removed since it was queued.
		if record == nil {
			continue
		}
		if err := putVector(w.tx, id, vector); err != nil {
			return err
		}
	}

	if err := w.lex.apply(w.tx); err != nil {
		return err
	}
	return w.tx.Set([]byte(generationKey), storage.MarshalUint64(uint64(w.gen)))
}

// batchDimensions returns the declared dimension of a batch, or the
// length of any vector it carries when none was declared.
func batchDimensions(batch *storage.Batch) int {
	if batch.Dimensions > 0 {
		return batch.Dimensions
	}
	for _, v := range batch.Backfill {
		return len(v)
	}
	for _, f := range batch.Files {
		for _, v := range f.Vectors {
			return len(v)
		}
	}
	return 0
}

// setDimensions records the embedding dimension, discarding vectors of a
// different dimension first.
func (w *commitWriter) setDimensions(dims int) error {
	if dims <= 0 {
		return nil
	}
	stored, err := readCounter(w.tx, dimensionsKey)
	if err != nil {
		return err
	}
	if stored == uint64(dims) {
		return nil
	}
	if stored != 0 {
		if err := resetVectors(w.tx); err != nil {
			return err
		}
	}
	return w.tx.Set([]byte(dimensionsKey), storage.MarshalUint64(uint64(dims)))
}

func (w *commitWriter) writeFile(f *storage.FileUpdate) error {
	if f.Entry == nil || f.Replace {
		if err := w.removeFile(f.Path); err != nil {
			return err
		}
	}

	for _, record := range f.Records {
		if record.Path != f.Path {
			return fmt.Errorf("record %s belongs to %s", record.DocID, record.Path)
		}
		if err := w.putRecord(record, f.Vectors[record.DocID]); err != nil {
			return err
		}
	}

	key := makeManifestKey(f.Path)
	if f.Entry == nil {
		return w.tx.Delete(key)
	}
	entry := *f.Entry
	entry.Path = f.Path
	entry.Generation = uint64(w.gen)
	return w.tx.Set(key, storage.MarshalManifestEntry(&entry))
}

// removeFile deletes every record indexed from path.
func (w *commitWriter) removeFile(path string) error {
	ids, err := readIDs(w.tx, makeFilePrefix(path))
	if err != nil {
		return err
	}
	for _, id := range ids {
		record, err := readRecord(w.tx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("%w: file index references missing doc %s", core.ErrIndexCorruption, id)
		}
		if err := w.removeRecord(record); err != nil {
			return err
		}
	}
	return nil
}

func (w *commitWriter) putRecord(record *core.Record, vector []float32) error {
	if err := core.ValidateRecord(record); err != nil {
		return err
	}

	existing, err := readRecord(w.tx, record.DocID)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := w.removeRecord(existing); err != nil {
			return err
		}
	}

	id := storage.MarshalID(record.DocID)
	if err := w.tx.Set(makeRecordKey(record.DocID), storage.MarshalRecord(record)); err != nil {
		return err
	}
	if err := w.tx.Set(makeFileKey(record), id); err != nil {
		return err
	}
	if err := w.tx.Set(makeSessionKey(record), id); err != nil {
		return err
	}
	w.lex.add(record)

	if len(vector) == 0 {
		return markMissing(w.tx, record.DocID)
	}
	return putVector(w.tx, record.DocID, vector)
}

func (w *commitWriter) removeRecord(record *core.Record) error {
	for _, key := range [][]byte{
		makeRecordKey(record.DocID),
		makeFileKey(record),
		makeSessionKey(record),
	} {
		if err := w.tx.Delete(key); err != nil {
			return err
		}
	}
	w.lex.remove(record)
	return deleteVector(w.tx, record.DocID)
}
