package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/memex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock(t *testing.T) {
	root := filepath.Join(t.TempDir(), "memex")

	lock, err := AcquireLock(context.Background(), root, time.Second)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, LockFile))
	require.NoError(t, err, "lock file is created")

	_, err = AcquireLock(context.Background(), root, 100*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrLockTimeout)

	require.NoError(t, lock.Release())

	again, err := AcquireLock(context.Background(), root, time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireLock_WaitsForRelease(t *testing.T) {
	root := t.TempDir()
	lock, err := AcquireLock(context.Background(), root, time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		lock.Release()
	}()

	second, err := AcquireLock(context.Background(), root, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}
