package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/storage"
)

const (
	// formatVersion is bumped whenever the key layout or value encoding changes.
	formatVersion = 2

	// Larger memtables raise the per-transaction size limit, which bounds
	// how much one file can contribute to a single commit.
	memTableSize = 128 << 20
)

// Options configures how the database is opened.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// ReadOnly opens an existing database without taking the writer's
	// directory lock. Commits fail with storage.ErrReadOnly.
	ReadOnly bool

	// BusyTimeout bounds how long a Store waits for a directory lock held
	// by another process before failing with core.ErrIndexBusy.
	BusyTimeout time.Duration

	// Logger receives badger's own log output. Defaults to slog.Default().
	Logger *slog.Logger
}

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db       *badger.DB
	readOnly bool
	logger   *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
// Badger's info chatter is demoted to debug.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// OpenBackend opens a BadgerDB database.
// A writable on-disk database creates its directory if it doesn't exist.
// A read-only open of a missing database fails with core.ErrNotIndexed.
func OpenBackend(o Options) (*Backend, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger")

	var opts badger.Options
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := ensureDir(o.Path, o.ReadOnly); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(o.Path).
			WithSyncWrites(true).
			WithReadOnly(o.ReadOnly).
			WithMemTableSize(memTableSize)
	}

	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("%w: %s is held by another process", core.ErrIndexBusy, o.Path)
		}
		return nil, err
	}

	b := &Backend{
		db:       db,
		readOnly: o.ReadOnly && !o.InMemory,
		logger:   logger,
	}
	if err := b.checkFormat(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func ensureDir(path string, readOnly bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if readOnly {
			return fmt.Errorf("%w: no index at %s", core.ErrNotIndexed, path)
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return err
		}
		info, err = os.Stat(path)
		if err != nil {
			return err
		}
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", core.ErrConfig, path)
	}
	return nil
}

// checkFormat rejects databases written by another layout version and
// databases that hold data without a format marker.
func (b *Backend) checkFormat() error {
	return b.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(formatKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			it := tx.NewIterator(badger.IteratorOptions{PrefetchValues: false})
			defer it.Close()
			it.Rewind()
			if it.Valid() {
				return fmt.Errorf("%w: database has data but no format marker", core.ErrIndexCorruption)
			}
			return nil
		}
		if err != nil {
			return err
		}
		var version uint64
		err = item.Value(func(val []byte) error {
			version, err = storage.UnmarshalUint64(val)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrIndexCorruption, err)
		}
		if version != formatVersion {
			return fmt.Errorf("%w: unknown format version %d", core.ErrIndexCorruption, version)
		}
		return nil
	}, false)
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// ReadOnly reports whether the database was opened read-only.
func (b *Backend) ReadOnly() bool {
	return b.readOnly
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded if fn returns an error.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}
