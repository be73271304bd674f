package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/pkg/store"
)

func getTestConfig(t *testing.T) store.VectorStoreConfig {
	t.Helper()
	url := os.Getenv("REPOCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("REPOCHAT_TEST_DATABASE_URL not set")
	}
	return store.VectorStoreConfig{
		ConnString: url,
		TableName:  "test_repo_chunks",
		VectorDim:  3,
	}
}

func TestVectorStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewWithConfig(ctx, getTestConfig(t))
	require.NoError(t, err)
	defer s.Close()

	const ns = "test/vector-store"
	require.NoError(t, s.Reset(ctx, ns))

	records := []models.Record{
		record("auth", 1, 0, 0),
		record("session", 0.8, 0.2, 0),
		record("readme", 0, 0, 1),
	}
	records[0].Text = "Handles login\x00 and logout"

	require.NoError(t, s.Upsert(ctx, ns, records))
	// Re-upserting the same ids does not add rows.
	require.NoError(t, s.Upsert(ctx, ns, records))

	stats, err := s.Stats(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)

	results, err := s.Query(ctx, ns, []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Verify results
	assert.Equal(t, "auth", results[0].ID)
	assert.Equal(t, "Handles login and logout", results[0].Text)
	assert.Equal(t, "src/auth.py", results[0].Metadata.FilePath)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	err = s.Upsert(ctx, ns, []models.Record{record("bad", 1, 0)})
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)

	require.NoError(t, s.Reset(ctx, ns))
	stats, err = s.Stats(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Records)
}

func TestVectorStoreRejectsChangedDimension(t *testing.T) {
	ctx := context.Background()
	config := getTestConfig(t)
	config.TableName = "test_repo_chunks_dim"

	s, err := store.NewWithConfig(ctx, config)
	require.NoError(t, err)
	s.Close()

	config.VectorDim = 4
	_, err = store.NewWithConfig(ctx, config)
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
}
