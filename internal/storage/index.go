// Package storage stores chunk embeddings and answers nearest-neighbour queries over them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bull/docs-rag/internal/domain"
)

// VectorIndex is a vector store holding one point per chunk id.
//
// Upsert is idempotent on chunk id. Every point carries the model id of its vector and
// Search only considers points embedded by the query vector's model. Search applies
// filters before ranking and orders results by descending score, breaking ties by the
// smaller chunk id. A store that cannot be reached reports domain.ErrIndexUnavailable,
// never an empty result.
type VectorIndex interface {
	Upsert(ctx context.Context, chunk domain.Chunk, vec domain.EmbeddingVector) error
	Search(ctx context.Context, query domain.EmbeddingVector, k int, filters domain.Filters) ([]domain.SearchResult, error)
	// Prune removes the chunks of documentID with an ordinal at or above keep.
	Prune(ctx context.Context, documentID string, keep int) error
	// Delete removes the given chunks. Unknown ids are ignored.
	Delete(ctx context.Context, chunkIDs []string) error
	// Reset removes every stored point, keeping the index ready for upserts.
	Reset(ctx context.Context) error
	// Count returns the number of stored points.
	Count(ctx context.Context) (uint64, error)
	Dimension() int
	Health(ctx context.Context) error
	Close() error
}

// Item is a chunk paired with its embedding.
type Item struct {
	Chunk  domain.Chunk
	Vector domain.EmbeddingVector
}

// BatchUpserter is implemented by indexes that can write many points in one round trip.
// Items passed to UpsertBatch have already been dimension-checked.
type BatchUpserter interface {
	UpsertBatch(ctx context.Context, items []Item) error
}

// SkippedItem is an item UpsertAll did not write.
type SkippedItem struct {
	ChunkID string
	Err     error
}

// UpsertReport lists what UpsertAll wrote and skipped.
type UpsertReport struct {
	Indexed []string
	Skipped []SkippedItem
}

// UpsertAll writes items, skipping and logging those whose dimension does not match the index.
// It stops at the first other failure, which is returned alongside the partial report.
func UpsertAll(ctx context.Context, idx VectorIndex, items []Item, logger zerolog.Logger) (UpsertReport, error) {
	var report UpsertReport
	valid := make([]Item, 0, len(items))

	dim := idx.Dimension()
	for _, it := range items {
		if dim > 0 {
			if err := checkDimension("vector for "+it.Chunk.ID, it.Vector.Dimension(), dim); err != nil {
				logger.Warn().Err(err).Str("chunk_id", it.Chunk.ID).Msg("skipping chunk with mismatched embedding")
				report.Skipped = append(report.Skipped, SkippedItem{ChunkID: it.Chunk.ID, Err: err})
				continue
			}
		}
		valid = append(valid, it)
	}

	if b, ok := idx.(BatchUpserter); ok && len(valid) > 0 {
		if err := b.UpsertBatch(ctx, valid); err != nil {
			return report, err
		}
		for _, it := range valid {
			report.Indexed = append(report.Indexed, it.Chunk.ID)
		}
		return report, nil
	}

	for _, it := range valid {
		err := idx.Upsert(ctx, it.Chunk, it.Vector)
		switch {
		case err == nil:
			report.Indexed = append(report.Indexed, it.Chunk.ID)
		case errors.Is(err, domain.ErrDimensionMismatch):
			logger.Warn().Err(err).Str("chunk_id", it.Chunk.ID).Msg("skipping chunk with mismatched embedding")
			report.Skipped = append(report.Skipped, SkippedItem{ChunkID: it.Chunk.ID, Err: err})
		default:
			return report, fmt.Errorf("upsert %s: %w", it.Chunk.ID, err)
		}
	}
	return report, nil
}

// rank sorts results by descending score, then ascending chunk id, and keeps the first k.
func rank(results []domain.SearchResult, k int) []domain.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

func validateSearch(query domain.EmbeddingVector, k, dim int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	if dim > 0 {
		return checkDimension("query vector", query.Dimension(), dim)
	}
	return nil
}
