package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bull/docs-rag/internal/domain"
)

// BatchResult contains statistics about a bulk ingestion.
type BatchResult struct {
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	PartialDocs    int
	FailedDocs     []FailedDoc
	Duration       time.Duration
}

// FailedDoc represents a document that failed to ingest.
type FailedDoc struct {
	DocumentID string
	Reason     string
}

// Rebuild empties the index and ingests docs into it.
func (c *Coordinator) Rebuild(ctx context.Context, docs []domain.Document) (*BatchResult, error) {
	c.logger.Info().Msg("resetting index before rebuild")
	if err := c.Index.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}
	return c.IngestAll(ctx, docs), nil
}

// IngestAll ingests docs one after another, recording failures and moving on.
// It stops early only when ctx is done.
func (c *Coordinator) IngestAll(ctx context.Context, docs []domain.Document) *BatchResult {
	start := time.Now()
	result := &BatchResult{TotalDocs: len(docs)}
	c.logger.Info().Int("count", len(docs)).Msg("starting bulk ingestion")

	for _, doc := range docs {
		if ctx.Err() != nil {
			result.FailedDocs = append(result.FailedDocs, FailedDoc{DocumentID: doc.ID, Reason: ctx.Err().Error()})
			continue
		}
		job, err := c.Ingest(ctx, doc)
		if err != nil {
			c.logger.Warn().Err(err).Str("doc_id", doc.ID).Msg("failed to ingest document")
			result.FailedDocs = append(result.FailedDocs, FailedDoc{DocumentID: doc.ID, Reason: err.Error()})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += job.IndexedChunks
		if job.Partial {
			result.PartialDocs++
		}
	}

	result.Duration = time.Since(start)
	c.logger.Info().
		Int("successful", result.SuccessfulDocs).
		Int("partial", result.PartialDocs).
		Int("failed", len(result.FailedDocs)).
		Int("chunks", result.TotalChunks).
		Dur("duration", result.Duration).
		Msg("bulk ingestion complete")
	return result
}
