package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/pipeline"
)

// Pipeline is the subset of the coordinator the tools drive.
type Pipeline interface {
	Ingest(ctx context.Context, doc domain.Document) (pipeline.Job, error)
	Submit(ctx context.Context, doc domain.Document) (pipeline.Job, error)
	JobStatus(ctx context.Context, id uuid.UUID) (pipeline.Job, error)
	Query(ctx context.Context, req pipeline.QueryRequest) (*pipeline.QueryResult, error)
	Status(ctx context.Context) (pipeline.Status, error)
}

// makeIngestHandler creates the ingest_document tool handler.
// Without Wait the job runs in the background and its pending snapshot is returned.
func makeIngestHandler(p Pipeline) func(
	context.Context, *mcp.CallToolRequest, IngestDocumentInput,
) (*mcp.CallToolResult, JobOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestDocumentInput) (
		*mcp.CallToolResult, JobOutput, error,
	) {
		doc := domain.Document{
			ID:        input.ID,
			Title:     input.Title,
			Owner:     input.Owner,
			Source:    input.Source,
			Text:      input.Text,
			UpdatedAt: time.Now(),
		}

		if !input.Wait {
			job, err := p.Submit(ctx, doc)
			if err != nil {
				return nil, JobOutput{}, fmt.Errorf("submit document: %w", err)
			}
			return nil, jobOutput(job), nil
		}

		job, err := p.Ingest(ctx, doc)
		if err != nil && job.ID == uuid.Nil {
			return nil, JobOutput{}, fmt.Errorf("ingest document: %w", err)
		}
		// A failed job is reported through its state and reason.
		return nil, jobOutput(job), nil
	}
}

// makeQueryHandler creates the query tool handler.
func makeQueryHandler(p Pipeline) func(
	context.Context, *mcp.CallToolRequest, QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueryInput) (
		*mcp.CallToolResult, QueryOutput, error,
	) {
		res, err := p.Query(ctx, pipeline.QueryRequest{
			Text:         input.Question,
			Filters:      domain.Filters{Owner: input.Owner, DocumentIDs: input.DocumentIDs},
			K:            input.K,
			Budget:       input.Budget,
			Instructions: input.Instructions,
		})
		if err != nil {
			return nil, QueryOutput{}, fmt.Errorf("query failed: %w", err)
		}
		return nil, queryOutput(res), nil
	}
}

// makeJobStatusHandler creates the job_status tool handler.
// Unknown ids return Found=false rather than an error.
func makeJobStatusHandler(p Pipeline) func(
	context.Context, *mcp.CallToolRequest, JobStatusInput,
) (*mcp.CallToolResult, JobOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input JobStatusInput) (
		*mcp.CallToolResult, JobOutput, error,
	) {
		id, err := uuid.Parse(input.JobID)
		if err != nil {
			return nil, JobOutput{}, fmt.Errorf("%w: job id %q: %w", domain.ErrInvalidInput, input.JobID, err)
		}

		job, err := p.JobStatus(ctx, id)
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, JobOutput{Found: false, JobID: input.JobID}, nil
		}
		if err != nil {
			return nil, JobOutput{}, fmt.Errorf("get job: %w", err)
		}
		return nil, jobOutput(job), nil
	}
}

// makeIndexStatusHandler creates the index_status tool handler.
func makeIndexStatusHandler(p Pipeline) func(
	context.Context, *mcp.CallToolRequest, IndexStatusInput,
) (*mcp.CallToolResult, IndexStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IndexStatusInput) (
		*mcp.CallToolResult, IndexStatusOutput, error,
	) {
		st, err := p.Status(ctx)
		if err != nil {
			return nil, IndexStatusOutput{}, fmt.Errorf("index status: %w", err)
		}

		jobs := make(map[string]int, len(st.Jobs))
		for state, n := range st.Jobs {
			jobs[string(state)] = n
		}
		return nil, IndexStatusOutput{
			Healthy:       st.IndexHealthy,
			Error:         st.IndexError,
			IndexedChunks: st.IndexedChunks,
			Dimension:     st.Dimension,
			Model:         st.Model,
			CacheEntries:  st.CacheEntries,
			Jobs:          jobs,
		}, nil
	}
}

func jobOutput(job pipeline.Job) JobOutput {
	out := JobOutput{
		Found:         true,
		JobID:         job.ID.String(),
		DocumentID:    job.DocumentID,
		State:         string(job.State),
		Reason:        job.Reason,
		TotalChunks:   job.TotalChunks,
		IndexedChunks: job.IndexedChunks,
		Partial:       job.Partial,
		UpdatedAt:     job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, f := range job.FailedChunks {
		out.FailedChunks = append(out.FailedChunks, FailedChunk{ChunkID: f.ChunkID, Reason: f.Reason})
	}
	return out
}

func queryOutput(res *pipeline.QueryResult) QueryOutput {
	ans := res.Answer
	out := QueryOutput{
		Answer:    ans.Answer,
		Citations: make([]Citation, 0, len(ans.Citations)),
		Passages:  make([]Passage, 0, len(res.Context.Chunks)),
		Warnings:  ans.Warnings,
		NoMatches: res.NoMatches,
		Usage: Usage{
			PromptTokens:     ans.Usage.PromptTokens,
			CompletionTokens: ans.Usage.CompletionTokens,
			TotalTokens:      ans.Usage.TotalTokens,
		},
		LatencyMS: ans.Latency.Milliseconds(),
	}

	for _, c := range ans.Citations {
		switch c := c.(type) {
		case domain.MappedCitation:
			out.Citations = append(out.Citations, Citation{
				Marker:     c.Marker,
				Mapped:     true,
				ChunkID:    c.ChunkID,
				DocumentID: c.DocumentID,
				Title:      c.Title,
			})
		case domain.UnmappedCitation:
			out.Citations = append(out.Citations, Citation{Marker: c.Marker})
		}
	}

	for _, cc := range res.Context.Chunks {
		out.Passages = append(out.Passages, Passage{
			Marker:     cc.Marker,
			ChunkID:    cc.Chunk.ID,
			DocumentID: cc.Chunk.DocumentID,
			Title:      cc.Chunk.Title,
			Score:      cc.Score,
			Text:       cc.Chunk.Text,
		})
	}
	return out
}
