// Package mcp exposes the retrieval pipeline as MCP tools over stdio.
package mcp

// IngestDocumentInput defines the input parameters for the ingest_document tool.
type IngestDocumentInput struct {
	// ID identifies the document; re-ingesting an id replaces its chunks.
	ID     string `json:"id" jsonschema:"Stable document identifier, e.g. a path"`
	Title  string `json:"title,omitempty" jsonschema:"Human-readable title shown with citations"`
	Owner  string `json:"owner,omitempty" jsonschema:"Owner used to scope queries"`
	Source string `json:"source,omitempty" jsonschema:"URL or path the text came from"`
	Text   string `json:"text" jsonschema:"Plain text of the document"`
	// Wait runs the job to completion before returning.
	Wait bool `json:"wait,omitempty" jsonschema:"Wait for the job to finish instead of returning the pending job"`
}

// JobOutput is a snapshot of an ingestion job.
type JobOutput struct {
	Found         bool          `json:"found"`
	JobID         string        `json:"job_id,omitempty"`
	DocumentID    string        `json:"document_id,omitempty"`
	State         string        `json:"state,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	TotalChunks   int           `json:"total_chunks"`
	IndexedChunks int           `json:"indexed_chunks"`
	FailedChunks  []FailedChunk `json:"failed_chunks,omitempty"`
	Partial       bool          `json:"partial"`
	UpdatedAt     string        `json:"updated_at,omitempty"`
}

// FailedChunk names a chunk that could not be indexed.
type FailedChunk struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
}

// QueryInput defines the input parameters for the query tool.
type QueryInput struct {
	Question     string   `json:"question" jsonschema:"The question to answer from the indexed documents"`
	K            int      `json:"k,omitempty" jsonschema:"Nearest chunks to retrieve (default from configuration)"`
	Budget       int      `json:"budget,omitempty" jsonschema:"Token budget of the context (default from configuration)"`
	Owner        string   `json:"owner,omitempty" jsonschema:"Only retrieve chunks of this owner"`
	DocumentIDs  []string `json:"document_ids,omitempty" jsonschema:"Only retrieve chunks of these documents"`
	Instructions string   `json:"instructions,omitempty" jsonschema:"System instructions replacing the default"`
}

// QueryOutput is a grounded answer with its evidence.
type QueryOutput struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Passages  []Passage  `json:"passages"`
	Warnings  []string   `json:"warnings,omitempty"`
	NoMatches bool       `json:"no_matches"`
	Usage     Usage      `json:"usage"`
	LatencyMS int64      `json:"latency_ms"`
}

// Citation is a marker found in the answer. Mapped is false when no passage carries the marker.
type Citation struct {
	Marker     int    `json:"marker"`
	Mapped     bool   `json:"mapped"`
	ChunkID    string `json:"chunk_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Passage is a context chunk handed to the generator.
type Passage struct {
	Marker     int     `json:"marker"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// Usage holds token counters of the generation call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// JobStatusInput defines the input parameters for the job_status tool.
type JobStatusInput struct {
	JobID string `json:"job_id" jsonschema:"Job id returned by ingest_document"`
}

// IndexStatusInput defines the input parameters for the index_status tool.
// This tool takes no parameters.
type IndexStatusInput struct{}

// IndexStatusOutput reports index health and counters.
type IndexStatusOutput struct {
	Healthy       bool           `json:"healthy"`
	Error         string         `json:"error,omitempty"`
	IndexedChunks uint64         `json:"indexed_chunks"`
	Dimension     int            `json:"dimension"`
	Model         string         `json:"model"`
	CacheEntries  int            `json:"cache_entries"`
	Jobs          map[string]int `json:"jobs"`
}
