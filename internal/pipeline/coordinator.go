// Package pipeline runs ingestion jobs and queries across the chunker, embedding
// client, vector index, context assembler and generation orchestrator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bull/docs-rag/internal/assembler"
	"github.com/bull/docs-rag/internal/chunker"
	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/embedding"
	"github.com/bull/docs-rag/internal/generation"
	"github.com/bull/docs-rag/internal/storage"
)

const (
	// DefaultQueryDeadline bounds a whole query across all of its steps.
	DefaultQueryDeadline = 60 * time.Second

	// DefaultTopK is the number of nearest neighbours retrieved per query.
	DefaultTopK = 8

	// DefaultContextBudget is the token budget of the assembled context.
	DefaultContextBudget = 3000
)

// Config tunes the Coordinator.
type Config struct {
	QueryDeadline time.Duration
	TopK          int
	ContextBudget int
	Dedup         assembler.DedupPolicy
}

// Components are the collaborators the Coordinator drives.
type Components struct {
	Chunker   *chunker.Chunker
	Embedder  *embedding.Client
	Index     storage.VectorIndex
	Assembler *assembler.Assembler
	Generator *generation.Orchestrator
	Jobs      JobStore
}

// Coordinator runs ingestion jobs and queries. It is safe for concurrent use.
type Coordinator struct {
	Components
	cfg    Config
	logger zerolog.Logger

	// Background jobs run under base so they outlive the submitting request.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator wires the components. A nil JobStore gets an in-memory one.
func NewCoordinator(c Components, cfg Config, logger zerolog.Logger) (*Coordinator, error) {
	if c.Chunker == nil || c.Embedder == nil || c.Index == nil || c.Generator == nil {
		return nil, errors.New("pipeline: chunker, embedder, index and generator are required")
	}
	if c.Assembler == nil {
		c.Assembler = assembler.New(nil)
	}
	if c.Jobs == nil {
		jobs, err := NewMemoryJobStore(DefaultJobRetention)
		if err != nil {
			return nil, err
		}
		c.Jobs = jobs
	}
	if cfg.QueryDeadline <= 0 {
		cfg.QueryDeadline = DefaultQueryDeadline
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = DefaultContextBudget
	}
	if cfg.Dedup == (assembler.DedupPolicy{}) {
		cfg.Dedup = assembler.DefaultDedupPolicy()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		Components: c,
		cfg:        cfg,
		logger:     logger,
		base:       base,
		cancel:     cancel,
	}, nil
}

// Close cancels background jobs and waits for them to record their final state.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Ingest chunks, embeds and indexes doc synchronously and returns the finished job.
// Per-chunk failures complete the job as Partial; the error is non-nil only when
// the job ends Failed.
func (c *Coordinator) Ingest(ctx context.Context, doc domain.Document) (Job, error) {
	if err := validateDocument(doc); err != nil {
		return Job{}, err
	}
	job := newJob(doc.ID)
	c.save(ctx, &job)
	err := c.run(ctx, &job, doc)
	return job, err
}

// Submit records a pending job for doc and runs it in the background.
func (c *Coordinator) Submit(ctx context.Context, doc domain.Document) (Job, error) {
	if err := validateDocument(doc); err != nil {
		return Job{}, err
	}
	job := newJob(doc.ID)
	if err := c.Jobs.Put(ctx, job); err != nil {
		return Job{}, fmt.Errorf("record job: %w", err)
	}

	c.wg.Add(1)
	go func(job Job) {
		defer c.wg.Done()
		_ = c.run(c.base, &job, doc)
	}(job)
	return job, nil
}

// JobStatus returns the latest snapshot of job id.
func (c *Coordinator) JobStatus(ctx context.Context, id uuid.UUID) (Job, error) {
	return c.Jobs.Get(ctx, id)
}

func validateDocument(doc domain.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: document id is empty", domain.ErrInvalidInput)
	}
	return nil
}

// run drives job through its states. Stale chunks left from a longer previous
// version of the document are pruned once the new ones are indexed.
func (c *Coordinator) run(ctx context.Context, job *Job, doc domain.Document) error {
	log := c.logger.With().Str("job_id", job.ID.String()).Str("doc_id", doc.ID).Logger()
	start := time.Now()

	c.transition(ctx, job, StateChunking, log)
	chunks, err := c.Chunker.Chunk(doc)
	if err != nil {
		return c.fail(ctx, job, fmt.Errorf("chunk: %w", err), log)
	}
	job.TotalChunks = len(chunks)

	c.transition(ctx, job, StateEmbedding, log)
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	res, err := c.Embedder.Embed(ctx, texts)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return c.fail(ctx, job, fmt.Errorf("embed: %w", ctxErr), log)
	}

	items := make([]storage.Item, 0, len(chunks))
	for i, ch := range chunks {
		if ferr := res.Failed(i); ferr != nil {
			job.FailedChunks = append(job.FailedChunks, ChunkFailure{ChunkID: ch.ID, Reason: ferr.Error()})
			continue
		}
		items = append(items, storage.Item{Chunk: ch, Vector: res.Vectors[i]})
	}
	if err != nil {
		log.Warn().Err(err).Int("failed", len(job.FailedChunks)).Msg("some chunks could not be embedded")
	}

	c.transition(ctx, job, StateIndexing, log)
	report, err := storage.UpsertAll(ctx, c.Index, items, log)
	job.IndexedChunks = len(report.Indexed)
	for _, s := range report.Skipped {
		job.FailedChunks = append(job.FailedChunks, ChunkFailure{ChunkID: s.ChunkID, Reason: s.Err.Error()})
	}
	if err != nil {
		return c.fail(ctx, job, fmt.Errorf("index: %w", err), log)
	}

	if job.TotalChunks > 0 && job.IndexedChunks == 0 {
		reason := "no failure recorded"
		if len(job.FailedChunks) > 0 {
			reason = job.FailedChunks[0].Reason
		}
		return c.fail(ctx, job, fmt.Errorf("none of %d chunks indexed, first failure: %s", job.TotalChunks, reason), log)
	}

	if err := c.Index.Prune(ctx, doc.ID, len(chunks)); err != nil {
		log.Warn().Err(err).Msg("failed to prune stale chunks")
	}
	// A failed ordinal must not leave the previous version's text searchable.
	if len(job.FailedChunks) > 0 {
		ids := make([]string, len(job.FailedChunks))
		for i, f := range job.FailedChunks {
			ids[i] = f.ChunkID
		}
		if err := c.Index.Delete(ctx, ids); err != nil {
			log.Warn().Err(err).Int("chunks", len(ids)).Msg("failed to delete stale versions of failed chunks")
		}
	}

	job.Partial = len(job.FailedChunks) > 0
	c.transition(ctx, job, StateComplete, log)
	log.Info().
		Int("chunks", job.TotalChunks).
		Int("indexed", job.IndexedChunks).
		Int("failed", len(job.FailedChunks)).
		Dur("duration", time.Since(start)).
		Msg("document ingested")
	return nil
}

func (c *Coordinator) transition(ctx context.Context, job *Job, state State, log zerolog.Logger) {
	job.State = state
	job.UpdatedAt = time.Now()
	log.Debug().Str("state", string(state)).Msg("job state")
	c.save(ctx, job)
}

func (c *Coordinator) fail(ctx context.Context, job *Job, err error, log zerolog.Logger) error {
	job.Reason = err.Error()
	job.State = StateFailed
	job.UpdatedAt = time.Now()
	log.Error().Err(err).Msg("ingestion failed")
	c.save(ctx, job)
	return err
}

// save records a snapshot. The store must not lose the final state to a cancelled request.
func (c *Coordinator) save(ctx context.Context, job *Job) {
	if err := c.Jobs.Put(context.WithoutCancel(ctx), *job); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to record job state")
	}
}
