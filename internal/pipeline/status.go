package pipeline

import (
	"context"
	"fmt"
)

// Status summarizes the index and ingestion activity.
type Status struct {
	IndexHealthy  bool          `json:"index_healthy"`
	IndexError    string        `json:"index_error,omitempty"`
	IndexedChunks uint64        `json:"indexed_chunks"`
	Dimension     int           `json:"dimension"`
	Model         string        `json:"model"`
	CacheEntries  int           `json:"cache_entries"`
	Jobs          map[State]int `json:"jobs"`
}

// Status reports index health and counters. An unhealthy index is reported, not returned as an error.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	st := Status{
		Dimension:    c.Index.Dimension(),
		Model:        c.Embedder.Model().String(),
		CacheEntries: c.Embedder.Cache().Len(),
	}

	if err := c.Index.Health(ctx); err != nil {
		st.IndexError = err.Error()
	} else if n, err := c.Index.Count(ctx); err != nil {
		st.IndexError = err.Error()
	} else {
		st.IndexHealthy = true
		st.IndexedChunks = n
	}

	jobs, err := c.Jobs.CountByState(ctx)
	if err != nil {
		return st, fmt.Errorf("count jobs: %w", err)
	}
	st.Jobs = jobs
	return st, nil
}
