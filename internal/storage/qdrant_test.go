//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docs-rag/internal/domain"
)

const testCollection = "docs_rag_test"

// setupTestStorage creates a test storage instance and ensures collection exists.
// Skips test if Qdrant is not running.
func setupTestStorage(t *testing.T) *QdrantStorage {
	t.Helper()
	storage, err := NewQdrantStorage(context.Background(), QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: testCollection,
		Dimension:  8,
	}, zerolog.Nop())
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	err = storage.EnsureCollection(context.Background())
	require.NoError(t, err, "Failed to ensure collection")
	return storage
}

func TestQdrantStorage_Behaviour(t *testing.T) {
	storage := setupTestStorage(t)
	defer storage.Close()

	exerciseVectorIndex(t, storage)
}

func TestQdrantStorage_BatchUpsertAcrossBatches(t *testing.T) {
	storage := setupTestStorage(t)
	defer storage.Close()
	ctx := context.Background()

	owner := "batch-owner"
	require.NoError(t, storage.Prune(ctx, "batch-doc", 0))

	items := make([]Item, 250)
	for i := range items {
		items[i] = Item{Chunk: chunkOf("batch-doc", i, owner, "chunk"), Vector: vecOf(8, testModel, 0.5, 0.5)}
	}

	report, err := UpsertAll(ctx, storage, items, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, report.Indexed, 250)

	results, err := storage.Search(ctx, vecOf(8, testModel, 0.5, 0.5), 300, domain.Filters{DocumentIDs: []string{"batch-doc"}})
	require.NoError(t, err)
	assert.Len(t, results, 250)
}

func TestQdrantStorage_Persistence(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	c := chunkOf("persist-doc", 0, "persist-owner", "must survive reconnection")
	require.NoError(t, storage.Upsert(ctx, c, vecOf(8, testModel, 1)))
	require.NoError(t, storage.Close())

	// Reconnect to simulate an application restart
	storage2 := setupTestStorage(t)
	defer storage2.Close()

	results, err := storage2.Search(ctx, vecOf(8, testModel, 1), 1, domain.Filters{Owner: "persist-owner"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, c.Text, results[0].Chunk.Text)
}
