package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bull/docs-rag/internal/domain"
)

// Step is a stage of a query.
type Step string

const (
	StepEmbedding  Step = "embedding"
	StepSearching  Step = "searching"
	StepAssembling Step = "assembling"
	StepGenerating Step = "generating"
)

// QueryRequest is a question with optional retrieval overrides.
// Zero K and Budget select the configured defaults.
type QueryRequest struct {
	Text         string
	Filters      domain.Filters
	K            int
	Budget       int
	Instructions string
}

// QueryResult is a grounded answer together with the evidence behind it.
type QueryResult struct {
	Answer    *domain.GenerationResult
	Context   domain.ContextBlock
	Matches   []domain.SearchResult
	NoMatches bool // The index returned nothing for the query
}

// FailedError reports the step at which a query failed.
type FailedError struct {
	Step Step
	Err  error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("query failed while %s: %v", e.Step, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

// Query answers req under the configured overall deadline. When the deadline
// passes at any step, outstanding calls are cancelled and ErrDeadlineExceeded is
// returned with no result. An empty match set is answered, not reported as an error.
func (c *Coordinator) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}
	k := req.K
	if k <= 0 {
		k = c.cfg.TopK
	}
	budget := req.Budget
	if budget <= 0 {
		budget = c.cfg.ContextBudget
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryDeadline)
	defer cancel()
	start := time.Now()

	vec, err := c.Embedder.EmbedQuery(ctx, req.Text)
	if err != nil {
		return nil, c.failQuery(ctx, StepEmbedding, err)
	}

	matches, err := c.Index.Search(ctx, vec, k, req.Filters)
	if err != nil {
		return nil, c.failQuery(ctx, StepSearching, err)
	}

	block := c.Assembler.Assemble(matches, budget, c.cfg.Dedup)
	if err := ctx.Err(); err != nil {
		return nil, c.failQuery(ctx, StepAssembling, err)
	}

	answer, err := c.Generator.Generate(ctx, req.Text, block, req.Instructions)
	if err != nil {
		return nil, c.failQuery(ctx, StepGenerating, err)
	}

	c.logger.Info().
		Int("matches", len(matches)).
		Int("context_chunks", len(block.Chunks)).
		Int("context_tokens", block.Tokens).
		Int("citations", len(answer.Citations)).
		Dur("duration", time.Since(start)).
		Msg("query answered")

	return &QueryResult{
		Answer:    answer,
		Context:   block,
		Matches:   matches,
		NoMatches: len(matches) == 0,
	}, nil
}

func (c *Coordinator) failQuery(ctx context.Context, step Step, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.logger.Warn().Str("step", string(step)).Dur("deadline", c.cfg.QueryDeadline).Msg("query deadline exceeded")
		return fmt.Errorf("%w: while %s", domain.ErrDeadlineExceeded, step)
	}
	c.logger.Error().Err(err).Str("step", string(step)).Msg("query failed")
	return &FailedError{Step: step, Err: err}
}
