package embedding_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/poiesic/memex/ai/mock"
	"github.com/poiesic/memex/core"
	"github.com/poiesic/memex/embedding"
	"github.com/poiesic/memex/storage"
	"github.com/poiesic/memex/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedStore commits n records without vectors.
func seedStore(t *testing.T, n int) (*badger.Store, []*core.Record) {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	records := make([]*core.Record, n)
	for i := range records {
		offset := int64(i * 100)
		records[i] = &core.Record{
			DocID:     core.DocID(core.SourceClaude, "/logs/a.jsonl", "s1", offset, 0),
			SessionID: "s1",
			Source:    core.SourceClaude,
			Role:      core.RoleAssistant,
			Timestamp: int64(1700000000 + i),
			Text:      fmt.Sprintf("message number %d", i),
			Path:      "/logs/a.jsonl",
			RawOffset: offset,
		}
	}
	size := int64(n * 100)
	_, err = store.Commit(context.Background(), &storage.Batch{Files: []*storage.FileUpdate{{
		Path:    "/logs/a.jsonl",
		Entry:   &core.ManifestEntry{Path: "/logs/a.jsonl", Source: core.SourceClaude, Size: size, Offset: size, Records: int64(n)},
		Records: records,
	}}})
	require.NoError(t, err)
	return store, records
}

func newReembedder(t *testing.T, store storage.Store, embedder *mock.MockEmbedder, progress io.Writer) *embedding.Reembedder {
	t.Helper()
	g, err := embedding.NewGenerator(embedder,
		embedding.WithBatchSize(4),
		embedding.WithRetryPolicy(embedding.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}))
	require.NoError(t, err)
	t.Cleanup(g.Release)

	r, err := embedding.NewReembedder(store, g, &embedding.Config{BatchSize: 4, ReportInterval: 4}, progress, nil)
	require.NoError(t, err)
	return r
}

func missingCount(t *testing.T, store storage.Store) int {
	t.Helper()
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Close()
	missing, err := snap.MissingVectors(context.Background(), 0)
	require.NoError(t, err)
	return len(missing)
}

func TestNewReembedder_Validation(t *testing.T) {
	_, err := embedding.NewReembedder(nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, embedding.ErrStoreRequired)
}

func TestReembedder_Backfill(t *testing.T) {
	store, _ := seedStore(t, 10)
	require.Equal(t, 10, missingCount(t, store))

	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = 16
	var progress bytes.Buffer
	r := newReembedder(t, store, embedder, &progress)

	stats, err := r.Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Embedded)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, core.Generation(4), stats.Generation, "seed commit plus three batches")
	assert.Zero(t, missingCount(t, store))
	assert.Contains(t, progress.String(), "Embedding complete")

	// Nothing left to do.
	stats, err = r.Backfill(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Embedded)
}

func TestReembedder_BackfillServiceDown(t *testing.T) {
	store, _ := seedStore(t, 6)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}
	r := newReembedder(t, store, embedder, nil)

	stats, err := r.Backfill(context.Background())
	require.NoError(t, err, "backfill degrades instead of failing")
	assert.Zero(t, stats.Embedded)
	assert.Equal(t, 6, missingCount(t, store))
}

func TestReembedder_RunFailsOnError(t *testing.T) {
	store, _ := seedStore(t, 6)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}
	r := newReembedder(t, store, embedder, nil)

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
}

func TestReembedder_RunReplacesVectors(t *testing.T) {
	store, records := seedStore(t, 5)
	ctx := context.Background()

	old := mock.NewMockEmbedder()
	old.Dimensions = 8
	_, err := newReembedder(t, store, old, nil).Backfill(ctx)
	require.NoError(t, err)

	// A new model with a different dimension.
	fresh := mock.NewMockEmbedder()
	fresh.Dimensions = 12
	stats, err := newReembedder(t, store, fresh, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Embedded)
	assert.Zero(t, missingCount(t, store))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()

	dims, err := snap.VectorDimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, dims)

	hits, err := snap.SimilaritySearch(ctx, mock.GenerateVector(records[2].Text, 12), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, records[2].DocID, hits[0].DocID)
}
