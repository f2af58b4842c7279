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

package embedding

import (
	"context"
	"fmt"

	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/storage"
)

// RecordIterator walks a list of doc ids in batches. Each batch is loaded
// from its own snapshot, which is closed before the batch is handed out.
type RecordIterator struct {
	store     storage.Store
	ids       []core.ID
	batchSize int
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records to load per batch (defaults when <= 0)
func NewRecordIterator(store storage.Store, ids []core.ID, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RecordIterator{store: store, ids: ids, batchSize: batchSize}
}

// AllIDs lists the doc id of every record in the snapshot.
func AllIDs(ctx context.Context, snap storage.RecordReader) ([]core.ID, error) {
	var ids []core.ID
	err := snap.Scan(ctx, func(r *core.Record) error {
		ids = append(ids, r.DocID)
		return nil
	})
	return ids, err
}

// ForEach calls fn with each batch of records. Iteration stops on the
// first error from fn. Context cancellation is checked between batches.
func (it *RecordIterator) ForEach(ctx context.Context, fn func([]*core.Record) error) error {
	for start := 0; start < len(it.ids); start += it.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := it.load(ctx, it.ids[start:min(start+it.batchSize, len(it.ids))])
		if err != nil {
			return err
		}

		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (it *RecordIterator) load(ctx context.Context, ids []core.ID) ([]*core.Record, error) {
	snap, err := it.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	batch := make([]*core.Record, 0, len(ids))
	for _, id := range ids {
		record, err := snap.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding queue references doc %s: %w", core.ErrIndexCorruption, id, err)
		}
		batch = append(batch, record)
	}
	return batch, nil
}
