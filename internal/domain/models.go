// Package domain holds the data model shared by the ingestion and query pipelines.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Document is an already-extracted plain text document supplied by the caller.
// It is treated as immutable once it has been chunked.
type Document struct {
	ID        string
	Title     string
	Owner     string
	Source    string // URL or path the text was extracted from
	CreatedAt time.Time
	UpdatedAt time.Time
	Text      string // Normalized plain text
}

// Chunk is a bounded, retrievable span of a document's text.
type Chunk struct {
	ID         string // Deterministic: see ChunkID
	DocumentID string
	Title      string // Title of the parent document (for citations)
	Owner      string // Owner of the parent document (for filtering)
	Ordinal    int    // Position in document (0, 1, 2...)
	Start      int    // Byte offset of the first character in Document.Text
	End        int    // Byte offset one past the last character
	Text       string
	Tokens     int    // Token count estimate
	Hash       string // ContentHash(Text)
	Oversized  bool   // A single unit longer than the target size
}

// ChunkID derives the stable identifier for the chunk at ordinal within a document.
// Zero padding keeps lexical order equal to ordinal order.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%06d", documentID, ordinal)
}

// ModelID identifies the embedding model that produced a vector.
type ModelID struct {
	Name    string
	Version string
}

// String returns "name" or "name@version".
func (m ModelID) String() string {
	if m.Version == "" {
		return m.Name
	}
	return m.Name + "@" + m.Version
}

// EmbeddingVector is the embedding of one piece of text by one model.
type EmbeddingVector struct {
	ContentHash string
	Values      []float32
	Model       ModelID
}

// Dimension returns the vector length.
func (v EmbeddingVector) Dimension() int {
	return len(v.Values)
}

// Filters restrict a search to a subset of the index.
// Empty fields do not filter.
type Filters struct {
	DocumentIDs []string
	Owner       string
}

// SearchResult is one nearest-neighbour match.
// Score is cosine similarity in [-1, 1], higher is more similar.
type SearchResult struct {
	ChunkID    string
	DocumentID string
	Score      float64
	Chunk      Chunk
}

// CitedChunk is a chunk selected into a context block together with its citation marker.
type CitedChunk struct {
	Marker int
	Chunk  Chunk
	Score  float64
}

// ContextBlock is the ordered selection of chunks handed to generation.
// Tokens never exceeds Budget.
type ContextBlock struct {
	Chunks []CitedChunk
	Tokens int
	Budget int
}

// Empty reports whether no chunk fit into the block.
func (b ContextBlock) Empty() bool {
	return len(b.Chunks) == 0
}

// Lookup returns the chunk tagged with marker.
func (b ContextBlock) Lookup(marker int) (CitedChunk, bool) {
	for _, c := range b.Chunks {
		if c.Marker == marker {
			return c, true
		}
	}
	return CitedChunk{}, false
}

// Citation is either a MappedCitation or an UnmappedCitation.
type Citation interface {
	citationMarker() int
}

// MappedCitation is a marker in the answer that refers to a chunk present in the context.
type MappedCitation struct {
	Marker     int
	ChunkID    string
	DocumentID string
	Title      string
}

func (c MappedCitation) citationMarker() int { return c.Marker }

// UnmappedCitation is a marker in the answer with no matching chunk in the context.
type UnmappedCitation struct {
	Marker int
}

func (c UnmappedCitation) citationMarker() int { return c.Marker }

// Usage holds token counters reported by (or estimated for) a generation call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerationResult is a grounded answer returned to the caller.
type GenerationResult struct {
	Answer    string
	Citations []Citation
	Usage     Usage
	Latency   time.Duration
	Warnings  []string
}

// NormalizeText collapses all whitespace runs to a single space and trims the ends.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ContentHash returns the hex SHA-256 of the normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}
