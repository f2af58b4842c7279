package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/memex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, "b", "two.jsonl"), "x\n")
	writeLog(t, filepath.Join(dir, "a", "one.jsonl"), "x\n")
	writeLog(t, filepath.Join(dir, "a", "notes.txt"), "x\n")

	units, err := discover(context.Background(), []SourceRoot{
		{Path: dir, Source: core.SourceClaude},
		{Path: filepath.Join(dir, "a"), Source: core.SourceCodex},
	})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, filepath.Join(dir, "a", "one.jsonl"), units[0].path)
	assert.Equal(t, core.SourceClaude, units[0].source, "first root wins")
	assert.Equal(t, int64(2), units[0].size)
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	gone := filepath.Join(dir, "gone.jsonl")
	elsewhere := filepath.Join(dir, "elsewhere.jsonl")
	require.NoError(t, os.WriteFile(elsewhere, []byte("x\n"), 0o644))

	found := []*unit{
		{path: "/new", source: core.SourceClaude, size: 10, mtime: 1},
		{path: "/same", source: core.SourceClaude, size: 10, mtime: 1},
		{path: "/grown", source: core.SourceClaude, size: 20, mtime: 2},
		{path: "/moved", source: core.SourceCodex, size: 10, mtime: 1},
	}
	manifest := map[string]*core.ManifestEntry{
		"/same":   {Path: "/same", Source: core.SourceClaude, Size: 10, ModTime: 1},
		"/grown":  {Path: "/grown", Source: core.SourceClaude, Size: 10, ModTime: 1},
		"/moved":  {Path: "/moved", Source: core.SourceClaude, Size: 10, ModTime: 1},
		gone:      {Path: gone, Source: core.SourceClaude},
		elsewhere: {Path: elsewhere, Source: core.SourceClaude},
	}

	work, unchanged := plan(found, manifest)
	assert.Equal(t, 1, unchanged)

	modes := make(map[string]mode)
	for _, u := range work {
		modes[u.path] = u.mode
	}
	assert.Equal(t, map[string]mode{
		"/new":   modeAdd,
		"/grown": modeAppend,
		"/moved": modeReingest,
		gone:     modeRemove,
	}, modes, "files outside the roots that still exist are kept")
}
