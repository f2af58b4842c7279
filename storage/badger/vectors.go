package badger

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/embedding"
	"github.com/poiesic/memex/storage"
)

// putVector stores a unit-normalized vector and clears the missing marker.
func putVector(tx *badger.Txn, id core.ID, vector []float32) error {
	if err := tx.Set(makeVectorKey(id), storage.MarshalVector(embedding.NormalizeVector(vector))); err != nil {
		return err
	}
	return tx.Delete(makeMissingKey(id))
}

// markMissing records that a doc still needs an embedding.
func markMissing(tx *badger.Txn, id core.ID) error {
	return tx.Set(makeMissingKey(id), nil)
}

// deleteVector drops a doc's vector and marker.
func deleteVector(tx *badger.Txn, id core.ID) error {
	if err := tx.Delete(makeVectorKey(id)); err != nil {
		return err
	}
	return tx.Delete(makeMissingKey(id))
}

// collectIDs returns the doc ids of every key under prefix.
func collectIDs(tx *badger.Txn, prefix string, limit int) ([]core.ID, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var ids []core.ID
	for iter.Rewind(); iter.Valid(); iter.Next() {
		id, ok := idFromKey(iter.Item().Key(), prefix)
		if !ok {
			return nil, fmt.Errorf("%w: malformed key %q", core.ErrIndexCorruption, iter.Item().Key())
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// resetVectors discards every stored vector and marks every record as
// missing. Used when the embedding dimension changes.
func resetVectors(tx *badger.Txn) error {
	vectors, err := collectIDs(tx, vectorPrefix, 0)
	if err != nil {
		return err
	}
	for _, id := range vectors {
		if err := tx.Delete(makeVectorKey(id)); err != nil {
			return err
		}
	}
	records, err := collectIDs(tx, recordPrefix, 0)
	if err != nil {
		return err
	}
	for _, id := range records {
		if err := markMissing(tx, id); err != nil {
			return err
		}
	}
	return tx.Delete([]byte(dimensionsKey))
}

// SimilaritySearch scores every stored vector against query.
func (s *snapshot) SimilaritySearch(ctx context.Context, query []float32, k int) ([]storage.VectorHit, error) {
	if len(query) == 0 {
		return nil, nil
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(vectorPrefix)
	iter := s.tx.NewIterator(opts)
	defer iter.Close()

	var hits []storage.VectorHit
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := iter.Item()
		id, ok := idFromKey(item.Key(), vectorPrefix)
		if !ok {
			return nil, fmt.Errorf("%w: malformed vector key %q", core.ErrIndexCorruption, item.Key())
		}
		var vector []float32
		err := item.Value(func(val []byte) error {
			var err error
			vector, err = storage.UnmarshalVector(val)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: vector %s: %w", core.ErrIndexCorruption, id, err)
		}
		if len(vector) != len(query) {
			continue
		}
		hits = append(hits, storage.VectorHit{
			DocID: id,
			Score: embedding.CosineSimilarity(query, vector),
		})
	}

	slices.SortFunc(hits, func(a, b storage.VectorHit) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.DocID, b.DocID))
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// VectorDimensions returns the dimension of stored vectors, 0 if none.
func (s *snapshot) VectorDimensions(ctx context.Context) (int, error) {
	dims, err := readCounter(s.tx, dimensionsKey)
	return int(dims), err
}

// MissingVectors returns doc ids that still need an embedding.
func (s *snapshot) MissingVectors(ctx context.Context, limit int) ([]core.ID, error) {
	return collectIDs(s.tx, missingPrefix, limit)
}
