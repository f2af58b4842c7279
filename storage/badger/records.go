package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/storage"
)

// readRecord loads a record by doc id. Returns nil, nil when absent.
func readRecord(tx *badger.Txn, id core.ID) (*core.Record, error) {
	item, err := tx.Get(makeRecordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record *core.Record
	err = item.Value(func(val []byte) error {
		record, err = storage.UnmarshalRecord(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %w", core.ErrIndexCorruption, id, err)
	}
	return record, nil
}

// readIDs collects the doc ids stored as values under prefix, in key order.
func readIDs(tx *badger.Txn, prefix []byte) ([]core.ID, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var ids []core.ID
	for iter.Rewind(); iter.Valid(); iter.Next() {
		err := iter.Item().Value(func(val []byte) error {
			id, err := storage.UnmarshalID(val)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: index entry %q: %w", core.ErrIndexCorruption, iter.Item().Key(), err)
		}
	}
	return ids, nil
}

// Get retrieves a single record by doc id.
func (s *snapshot) Get(ctx context.Context, id core.ID) (*core.Record, error) {
	record, err := readRecord(s.tx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: doc %s", storage.ErrNotFound, id)
	}
	return record, nil
}

// Scan calls fn for every record in doc id order.
func (s *snapshot) Scan(ctx context.Context, fn func(*core.Record) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(recordPrefix)
	iter := s.tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var record *core.Record
		err := iter.Item().Value(func(val []byte) error {
			var err error
			record, err = storage.UnmarshalRecord(val)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: record key %x: %w", core.ErrIndexCorruption, iter.Item().Key(), err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}

// Transcript returns all records of a session. Records of one file keep
// their byte order; files are ordered by the timestamp of their first
// record, ties by path.
func (s *snapshot) Transcript(ctx context.Context, sessionID string) ([]*core.Record, error) {
	ids, err := readIDs(s.tx, makeSessionPrefix(sessionID))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: session %q", storage.ErrNotFound, sessionID)
	}

	// Session keys sort by file hash then offset, so each file's records
	// arrive contiguous and in byte order.
	var files [][]*core.Record
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := readRecord(s.tx, id)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, fmt.Errorf("%w: session %q references missing doc %s", core.ErrIndexCorruption, sessionID, id)
		}
		if n := len(files); n > 0 && files[n-1][0].Path == record.Path {
			files[n-1] = append(files[n-1], record)
			continue
		}
		files = append(files, []*core.Record{record})
	}

	slices.SortStableFunc(files, func(a, b []*core.Record) int {
		return cmp.Or(
			cmp.Compare(a[0].Timestamp, b[0].Timestamp),
			strings.Compare(a[0].Path, b[0].Path),
		)
	})

	transcript := make([]*core.Record, 0, len(ids))
	for _, f := range files {
		transcript = append(transcript, f...)
	}
	return transcript, nil
}
