package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docs-rag/internal/domain"
)

var testModel = domain.ModelID{Name: "test-embed", Version: "1"}

// vecOf builds a dim-sized vector starting with head.
func vecOf(dim int, model domain.ModelID, head ...float32) domain.EmbeddingVector {
	values := make([]float32, dim)
	copy(values, head)
	return domain.EmbeddingVector{Values: values, Model: model}
}

func chunkOf(docID string, ordinal int, owner, text string) domain.Chunk {
	return domain.Chunk{
		ID:         domain.ChunkID(docID, ordinal),
		DocumentID: docID,
		Title:      "Title " + docID,
		Owner:      owner,
		Ordinal:    ordinal,
		Start:      ordinal * 10,
		End:        ordinal*10 + len(text),
		Text:       text,
		Tokens:     3,
		Hash:       domain.ContentHash(text),
	}
}

// exerciseVectorIndex checks the behaviour every VectorIndex backend must share.
// It isolates its data by owner so it can run against a shared remote collection.
func exerciseVectorIndex(t *testing.T, idx VectorIndex) {
	t.Helper()
	ctx := context.Background()
	dim := idx.Dimension()
	require.GreaterOrEqual(t, dim, 2)

	owner := "owner-" + uuid.NewString()
	docA := "a-" + uuid.NewString()
	docB := "b-" + uuid.NewString()

	c0 := chunkOf(docA, 0, owner, "first chunk")
	c1 := chunkOf(docA, 1, owner, "second chunk")
	c2 := chunkOf(docB, 0, owner, "other document")

	require.NoError(t, idx.Upsert(ctx, c0, vecOf(dim, testModel, 1, 0)))
	require.NoError(t, idx.Upsert(ctx, c1, vecOf(dim, testModel, 0.8, 0.6)))
	require.NoError(t, idx.Upsert(ctx, c2, vecOf(dim, testModel, 1, 0)))

	query := vecOf(dim, testModel, 1, 0)
	filters := domain.Filters{Owner: owner}

	t.Run("ranked by score then chunk id", func(t *testing.T) {
		results, err := idx.Search(ctx, query, 10, filters)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, c0.ID, results[0].ChunkID)
		assert.Equal(t, c2.ID, results[1].ChunkID)
		assert.Equal(t, c1.ID, results[2].ChunkID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
		assert.InDelta(t, 0.8, results[2].Score, 1e-5)
		assert.Equal(t, c1.Text, results[2].Chunk.Text)
		assert.Equal(t, c1.Ordinal, results[2].Chunk.Ordinal)
		assert.Equal(t, docA, results[2].DocumentID)
	})

	t.Run("k limits results", func(t *testing.T) {
		results, err := idx.Search(ctx, query, 1, filters)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, c0.ID, results[0].ChunkID)
	})

	t.Run("document filter", func(t *testing.T) {
		results, err := idx.Search(ctx, query, 10, domain.Filters{Owner: owner, DocumentIDs: []string{docB}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, c2.ID, results[0].ChunkID)
	})

	t.Run("other model never matches", func(t *testing.T) {
		other := vecOf(dim, domain.ModelID{Name: "other-model"}, 1, 0)
		results, err := idx.Search(ctx, other, 10, filters)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("upsert is idempotent on chunk id", func(t *testing.T) {
		updated := c0
		updated.Text = "first chunk, revised"
		require.NoError(t, idx.Upsert(ctx, updated, vecOf(dim, testModel, 1, 0)))
		require.NoError(t, idx.Upsert(ctx, updated, vecOf(dim, testModel, 1, 0)))

		results, err := idx.Search(ctx, query, 10, filters)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "first chunk, revised", results[0].Chunk.Text)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		err := idx.Upsert(ctx, chunkOf(docA, 9, owner, "bad"), vecOf(dim+1, testModel, 1))
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

		_, err = idx.Search(ctx, vecOf(dim+1, testModel, 1), 10, filters)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("prune drops trailing ordinals", func(t *testing.T) {
		require.NoError(t, idx.Prune(ctx, docA, 1))
		results, err := idx.Search(ctx, query, 10, filters)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, c0.ID, results[0].ChunkID)
		assert.Equal(t, c2.ID, results[1].ChunkID)
	})

	t.Run("delete removes named chunks", func(t *testing.T) {
		require.NoError(t, idx.Delete(ctx, []string{c2.ID, "unknown:000000"}))
		results, err := idx.Search(ctx, query, 10, filters)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, c0.ID, results[0].ChunkID)
	})

	require.NoError(t, idx.Health(ctx))
}

func TestRank_TieBreakAndTruncate(t *testing.T) {
	results := []domain.SearchResult{
		{ChunkID: "d:000002", Score: 0.5},
		{ChunkID: "d:000001", Score: 0.9},
		{ChunkID: "c:000001", Score: 0.5},
		{ChunkID: "a:000001", Score: 0.1},
	}
	got := rank(results, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "d:000001", got[0].ChunkID)
	assert.Equal(t, "c:000001", got[1].ChunkID)
	assert.Equal(t, "d:000002", got[2].ChunkID)
}

func TestUpsertAll_SkipsMismatchedDimensions(t *testing.T) {
	idx := NewMemoryStorage(3)
	items := []Item{
		{Chunk: chunkOf("d", 0, "", "ok"), Vector: vecOf(3, testModel, 1)},
		{Chunk: chunkOf("d", 1, "", "bad"), Vector: vecOf(5, testModel, 1)},
		{Chunk: chunkOf("d", 2, "", "ok too"), Vector: vecOf(3, testModel, 0, 1)},
	}

	report, err := UpsertAll(context.Background(), idx, items, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"d:000000", "d:000002"}, report.Indexed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "d:000001", report.Skipped[0].ChunkID)
	assert.ErrorIs(t, report.Skipped[0].Err, domain.ErrDimensionMismatch)

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

// downIndex accepts a fixed number of upserts and then reports the store unreachable.
type downIndex struct {
	*MemoryStorage
	allowed int
}

func (d *downIndex) Upsert(ctx context.Context, c domain.Chunk, v domain.EmbeddingVector) error {
	if d.allowed == 0 {
		return unavailable("upsert", errors.New("connection refused"))
	}
	d.allowed--
	return d.MemoryStorage.Upsert(ctx, c, v)
}

func TestUpsertAll_StopsWhenIndexUnavailable(t *testing.T) {
	idx := &downIndex{MemoryStorage: NewMemoryStorage(2), allowed: 1}
	var items []Item
	for i := 0; i < 3; i++ {
		items = append(items, Item{Chunk: chunkOf("d", i, "", fmt.Sprint(i)), Vector: vecOf(2, testModel, 1)})
	}

	report, err := UpsertAll(context.Background(), idx, items, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Equal(t, []string{"d:000000"}, report.Indexed)
}

// batchIndex records UpsertBatch calls.
type batchIndex struct {
	*MemoryStorage
	batches int
}

func (b *batchIndex) UpsertBatch(ctx context.Context, items []Item) error {
	b.batches++
	for _, it := range items {
		if err := b.MemoryStorage.Upsert(ctx, it.Chunk, it.Vector); err != nil {
			return err
		}
	}
	return nil
}

func TestUpsertAll_UsesBatchUpserter(t *testing.T) {
	idx := &batchIndex{MemoryStorage: NewMemoryStorage(2)}
	items := []Item{
		{Chunk: chunkOf("d", 0, "", "a"), Vector: vecOf(2, testModel, 1)},
		{Chunk: chunkOf("d", 1, "", "b"), Vector: vecOf(2, testModel, 0, 1)},
	}

	report, err := UpsertAll(context.Background(), idx, items, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, idx.batches)
	assert.Len(t, report.Indexed, 2)
}

func TestPointID_Deterministic(t *testing.T) {
	a := pointID("doc:000001")
	assert.Equal(t, a, pointID("doc:000001"))
	assert.NotEqual(t, a, pointID("doc:000002"))
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestSearchFilter_AlwaysPinsModel(t *testing.T) {
	f := searchFilter(testModel, domain.Filters{})
	require.Len(t, f.Must, 1)

	f = searchFilter(testModel, domain.Filters{Owner: "o", DocumentIDs: []string{"a", "b"}})
	assert.Len(t, f.Must, 3)
}
