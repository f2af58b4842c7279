package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/poiesic/memex/core"
)

// LockFile is the name of the writer lock under the index root.
const LockFile = "sync.lock"

// lockRetryDelay is how often a held lock is retried.
const lockRetryDelay = 50 * time.Millisecond

// Lock is the cross-process writer lock.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the writer lock in root, waiting up to timeout.
// It fails with core.ErrLockTimeout when another writer keeps it.
func AcquireLock(ctx context.Context, root string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfig, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fl := flock.New(filepath.Join(root, LockFile))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", core.ErrLockTimeout, timeout)
		}
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w after %s", core.ErrLockTimeout, timeout)
	}
	return &Lock{fl: fl}, nil
}

// Release gives the lock up.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
