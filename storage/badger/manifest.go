package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/storage"
)

// Manifest returns every manifest entry keyed by file path.
func (s *snapshot) Manifest(ctx context.Context) (map[string]*core.ManifestEntry, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(manifestPrefix)
	iter := s.tx.NewIterator(opts)
	defer iter.Close()

	entries := make(map[string]*core.ManifestEntry)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		var entry *core.ManifestEntry
		err := item.Value(func(val []byte) error {
			var err error
			entry, err = storage.UnmarshalManifestEntry(val)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: manifest entry %q: %w", core.ErrIndexCorruption, item.Key(), err)
		}
		path := strings.TrimPrefix(string(item.Key()), manifestPrefix)
		if entry.Path != path {
			return nil, fmt.Errorf("%w: manifest key %q holds entry for %q", core.ErrIndexCorruption, path, entry.Path)
		}
		entries[path] = entry
	}
	return entries, nil
}
