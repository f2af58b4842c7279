package badger

import (
	"context"
	"testing"

	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(path, session string, offset int64, part int, text string, ts int64) *core.Record {
	return &core.Record{
		DocID:     core.DocID(core.SourceClaude, path, session, offset, part),
		SessionID: session,
		Source:    core.SourceClaude,
		Role:      core.RoleUser,
		Timestamp: ts,
		Project:   "/work/proj",
		Text:      text,
		Path:      path,
		RawOffset: offset,
		Part:      part,
	}
}

func fileBatch(path string, records ...*core.Record) *storage.Batch {
	return &storage.Batch{Files: []*storage.FileUpdate{fileUpdate(path, records...)}}
}

func fileUpdate(path string, records ...*core.Record) *storage.FileUpdate {
	var offset int64
	for _, r := range records {
		offset = max(offset, r.RawOffset+1)
	}
	return &storage.FileUpdate{
		Path:    path,
		Entry:   &core.ManifestEntry{Path: path, Source: core.SourceClaude, Size: offset, Offset: offset, Records: int64(len(records))},
		Records: records,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func snapshotOf(t *testing.T, store storage.Store) storage.Snapshot {
	t.Helper()
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { snap.Close() })
	return snap
}

func TestCommit_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("/logs/a.jsonl", "s1", 0, 0, "refactor the parser", 1700000000)
	rec.Role = core.RoleToolUse
	rec.Tool = "Edit"

	gen, err := store.Commit(ctx, fileBatch("/logs/a.jsonl", rec))
	require.NoError(t, err)
	assert.Equal(t, core.Generation(1), gen)

	snap := snapshotOf(t, store)
	assert.Equal(t, core.Generation(1), snap.Generation())

	got, err := snap.Get(ctx, rec.DocID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	n, err := snap.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	manifest, err := snap.Manifest(ctx)
	require.NoError(t, err)
	require.Contains(t, manifest, "/logs/a.jsonl")
	assert.Equal(t, uint64(1), manifest["/logs/a.jsonl"].Generation)
}

func TestCommit_EmptyBatchKeepsGeneration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	gen, err := store.Commit(ctx, &storage.Batch{})
	require.NoError(t, err)
	assert.Equal(t, core.Generation(0), gen)

	_, err = store.Commit(ctx, fileBatch("/a", testRecord("/a", "s", 0, 0, "x", 1)))
	require.NoError(t, err)

	gen, err = store.Commit(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, core.Generation(1), gen)
}

func TestCommit_InvalidRecordWritesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	good := testRecord("/a", "s", 0, 0, "fine", 1)
	bad := testRecord("/a", "s", 1, 0, "", 1)
	_, err := store.Commit(ctx, fileBatch("/a", good, bad))
	require.ErrorIs(t, err, core.ErrInvalidRecord)

	snap := snapshotOf(t, store)
	assert.Equal(t, core.Generation(0), snap.Generation())
	_, err = snap.Get(ctx, good.DocID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCommit_CancelledContextDiscards(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := testRecord("/a", "s", 0, 0, "never visible", 1)
	_, err := store.Commit(ctx, fileBatch("/a", rec))
	require.ErrorIs(t, err, context.Canceled)

	snap := snapshotOf(t, store)
	assert.Equal(t, core.Generation(0), snap.Generation())
	_, err = snap.Get(context.Background(), rec.DocID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshot_Isolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testRecord("/a", "s", 0, 0, "first", 1)
	_, err := store.Commit(ctx, fileBatch("/a", first))
	require.NoError(t, err)

	pinned := snapshotOf(t, store)

	second := testRecord("/b", "s", 0, 0, "second", 2)
	_, err = store.Commit(ctx, fileBatch("/b", second))
	require.NoError(t, err)

	_, err = pinned.Get(ctx, second.DocID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "pinned snapshot must not see later commits")
	assert.Equal(t, core.Generation(1), pinned.Generation())

	fresh := snapshotOf(t, store)
	_, err = fresh.Get(ctx, second.DocID)
	assert.NoError(t, err)
	assert.Equal(t, core.Generation(2), fresh.Generation())
}

func TestCommit_AppendKeepsPriorRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r0 := testRecord("/a", "s", 0, 0, "zero", 1)
	r1 := testRecord("/a", "s", 10, 0, "one", 2)
	_, err := store.Commit(ctx, fileBatch("/a", r0))
	require.NoError(t, err)
	_, err = store.Commit(ctx, fileBatch("/a", r1))
	require.NoError(t, err)

	snap := snapshotOf(t, store)
	n, err := snap.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCommit_ReplaceDropsPriorRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testRecord("/a", "s", 0, 0, "obsolete words", 1)
	_, err := store.Commit(ctx, fileBatch("/a", old))
	require.NoError(t, err)

	fresh := testRecord("/a", "s", 5, 0, "rewritten content", 2)
	update := fileUpdate("/a", fresh)
	update.Replace = true
	_, err = store.Commit(ctx, &storage.Batch{Files: []*storage.FileUpdate{update}})
	require.NoError(t, err)

	snap := snapshotOf(t, store)
	_, err = snap.Get(ctx, old.DocID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	postings, err := snap.Postings(ctx, "obsolete")
	require.NoError(t, err)
	assert.Empty(t, postings)

	postings, err = snap.Postings(ctx, "rewritten")
	require.NoError(t, err)
	assert.Equal(t, []storage.Posting{{DocID: fresh.DocID, TF: 1}}, postings)

	n, err := snap.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCommit_ReplaceWithSameContentIsStable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("/a", "s", 0, 0, "same same", 1)
	_, err := store.Commit(ctx, fileBatch("/a", rec))
	require.NoError(t, err)

	again := *rec
	update := fileUpdate("/a", &again)
	update.Replace = true
	_, err = store.Commit(ctx, &storage.Batch{Files: []*storage.FileUpdate{update}})
	require.NoError(t, err)

	snap := snapshotOf(t, store)
	postings, err := snap.Postings(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, []storage.Posting{{DocID: rec.DocID, TF: 2}}, postings)

	n, err := snap.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCommit_RemoveFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testRecord("/a", "s1", 0, 0, "alpha", 1)
	b := testRecord("/b", "s2", 0, 0, "beta", 1)
	_, err := store.Commit(ctx, &storage.Batch{Files: []*storage.FileUpdate{
		fileUpdate("/a", a),
		fileUpdate("/b", b),
	}})
	require.NoError(t, err)

	_, err = store.Commit(ctx, &storage.Batch{Files: []*storage.FileUpdate{{Path: "/a"}}})
	require.NoError(t, err)

	snap := snapshotOf(t, store)
	_, err = snap.Get(ctx, a.DocID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = snap.Transcript(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	manifest, err := snap.Manifest(ctx)
	require.NoError(t, err)
	assert.NotContains(t, manifest, "/a")
	assert.Contains(t, manifest, "/b")

	missing, err := snap.MissingVectors(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{b.DocID}, missing)
}

func TestCommit_RecordPathMismatch(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord("/elsewhere", "s", 0, 0, "x", 1)
	_, err := store.Commit(context.Background(), fileBatch("/a", rec))
	assert.Error(t, err)
}

func TestScan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []*core.Record{
		testRecord("/a", "s", 0, 0, "one", 1),
		testRecord("/a", "s", 1, 0, "two", 2),
		testRecord("/a", "s", 2, 0, "three", 3),
	}
	_, err := store.Commit(ctx, fileBatch("/a", records...))
	require.NoError(t, err)

	snap := snapshotOf(t, store)
	var seen []core.ID
	err = snap.Scan(ctx, func(r *core.Record) error {
		seen = append(seen, r.DocID)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
	assert.IsNonDecreasing(t, seen)
}
