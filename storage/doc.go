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

// Package storage provides the storage abstraction layer for memex.
//
// The index is written only through Store.Commit and read only through a
// Snapshot, so readers always see one complete generation:
//
//   - Store: commit batches, open snapshots
//   - Snapshot: records, sessions, postings, vectors and the manifest of
//     one generation
//   - Batch / FileUpdate: the unit of change produced by the indexer
//
// # Usage
//
// Open a store and read the latest generation:
//
//	store, err := badger.Open(badger.Options{Path: "/path/to/index"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	snap, err := store.Snapshot(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer snap.Close()
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore()
//
// # Serialization
//
// Values are encoded with mus-go primitives (varint integers, length
// prefixed strings, raw float32). Posting lists store doc ids as deltas.
//
// # Thread Safety
//
// Store implementations must be safe for concurrent use. A Snapshot may
// be shared by goroutines of one query.
package storage
