package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/pkg/store"
)

func record(id string, vector ...float32) models.Record {
	return models.Record{
		ID:       id,
		Vector:   vector,
		Text:     "text of " + id,
		Metadata: models.ChunkMetadata{FileName: id + ".py", FilePath: "src/" + id + ".py"},
	}
}

func TestMemoryIndexQuery(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(3)

	require.NoError(t, idx.Upsert(ctx, "repo", []models.Record{
		record("auth", 1, 0, 0),
		record("session", 0.8, 0.2, 0),
		record("readme", 0, 0, 1),
		record("util", 0, 1, 0),
	}))

	matches, err := idx.Query(ctx, "repo", []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "auth", matches[0].ID)
	assert.Equal(t, "session", matches[1].ID)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
	assert.Equal(t, "src/auth.py", matches[0].Metadata.FilePath)
	assert.Equal(t, "text of auth", matches[0].Text)

	all, err := idx.Query(ctx, "repo", []float32{1, 0.1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}
}

func TestMemoryIndexNamespaces(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)

	require.NoError(t, idx.Upsert(ctx, "a", []models.Record{record("x", 1, 0)}))
	require.NoError(t, idx.Upsert(ctx, "b", []models.Record{record("y", 1, 0), record("z", 0, 1)}))

	stats, err := idx.Stats(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 2, stats.Dimension)

	matches, err := idx.Query(ctx, "a", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "x", matches[0].ID)

	require.NoError(t, idx.Reset(ctx, "b"))
	stats, err = idx.Stats(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Records)

	stats, err = idx.Stats(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
}

func TestMemoryIndexUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(2)

	require.NoError(t, idx.Upsert(ctx, "repo", []models.Record{record("x", 1, 0)}))
	require.NoError(t, idx.Upsert(ctx, "repo", []models.Record{record("x", 0, 1)}))

	stats, err := idx.Stats(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)

	matches, err := idx.Query(ctx, "repo", []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestMemoryIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex(3)

	err := idx.Upsert(ctx, "repo", []models.Record{record("ok", 1, 0, 0), record("bad", 1, 0)})
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)

	// Nothing from the failed call is kept.
	stats, err := idx.Stats(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Records)

	_, err = idx.Query(ctx, "repo", []float32{1}, 1)
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, store.CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, store.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, store.CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, store.CosineSimilarity([]float32{1}, []float32{1, 1}))
}
