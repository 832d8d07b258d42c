// Package chunker splits normalized document text into overlapping, token-bounded chunks.
package chunker

import (
	"fmt"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/tokenizer"
)

// Boundary selects the preferred unit that chunks are built from.
type Boundary string

const (
	// BoundarySentence builds chunks from sentences; paragraph breaks also end a sentence.
	BoundarySentence Boundary = "sentence"

	// BoundaryParagraph builds chunks from whole paragraphs and falls back to
	// sentences for paragraphs longer than the target size.
	BoundaryParagraph Boundary = "paragraph"
)

// Defaults used when a Config field is left zero by NewChunker callers.
const (
	DefaultTargetTokens = 500
	DefaultOverlap      = 0.2
)

// Config controls chunk sizing.
type Config struct {
	TargetTokens int      // Maximum tokens per chunk (except oversized single units)
	Overlap      float64  // Fraction of TargetTokens carried into the next chunk, 0 <= Overlap < 1
	Boundary     Boundary // Unit preference
}

// Validate reports configuration errors as domain.ErrInvalidInput.
func (c Config) Validate() error {
	if c.TargetTokens <= 0 {
		return fmt.Errorf("%w: target tokens must be positive, got %d", domain.ErrInvalidInput, c.TargetTokens)
	}
	if c.Overlap < 0 || c.Overlap >= 1 {
		return fmt.Errorf("%w: overlap must be in [0,1), got %v", domain.ErrInvalidInput, c.Overlap)
	}
	switch c.Boundary {
	case BoundarySentence, BoundaryParagraph:
	default:
		return fmt.Errorf("%w: unknown boundary %q", domain.ErrInvalidInput, c.Boundary)
	}
	return nil
}

// Chunker splits documents into chunks. It holds no mutable state and is safe for concurrent use.
type Chunker struct {
	cfg     Config
	counter tokenizer.Counter
}

// NewChunker creates a chunker. Zero config fields take the package defaults.
func NewChunker(cfg Config, counter tokenizer.Counter) (*Chunker, error) {
	if cfg.TargetTokens == 0 {
		cfg.TargetTokens = DefaultTargetTokens
	}
	if cfg.Boundary == "" {
		cfg.Boundary = BoundarySentence
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if counter == nil {
		counter = tokenizer.Words{}
	}
	return &Chunker{cfg: cfg, counter: counter}, nil
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits the document text. Identical text and configuration always produce
// an identical chunk sequence. Empty or whitespace-only text yields no chunks.
// Token counts cover the whole chunk span, separators included.
func (c *Chunker) Chunk(doc domain.Document) ([]domain.Chunk, error) {
	units := c.units(doc.Text)
	if len(units) == 0 {
		return nil, nil
	}

	overlapBudget := int(c.cfg.Overlap * float64(c.cfg.TargetTokens))

	var chunks []domain.Chunk
	var current []unit

	for _, u := range units {
		if len(current) > 0 && c.spanTokens(doc.Text, current[0], u) > c.cfg.TargetTokens {
			chunks = append(chunks, c.build(doc, len(chunks), current))

			current = c.overlapTail(doc.Text, current, overlapBudget)
			// Drop lead-in from the front until the incoming unit fits.
			for len(current) > 0 && c.spanTokens(doc.Text, current[0], u) > c.cfg.TargetTokens {
				current = current[1:]
			}
		}
		current = append(current, u)
	}
	chunks = append(chunks, c.build(doc, len(chunks), current))

	return chunks, nil
}

// build materializes the span covered by units as a chunk.
func (c *Chunker) build(doc domain.Document, ordinal int, units []unit) domain.Chunk {
	start := units[0].start
	end := units[len(units)-1].end
	text := doc.Text[start:end]
	tokens := c.counter.Count(text)
	if tokens == 0 {
		tokens = 1
	}

	return domain.Chunk{
		ID:         domain.ChunkID(doc.ID, ordinal),
		DocumentID: doc.ID,
		Title:      doc.Title,
		Owner:      doc.Owner,
		Ordinal:    ordinal,
		Start:      start,
		End:        end,
		Text:       text,
		Tokens:     tokens,
		Hash:       domain.ContentHash(text),
		Oversized:  tokens > c.cfg.TargetTokens,
	}
}

// spanTokens counts the text from the start of first to the end of last.
func (c *Chunker) spanTokens(text string, first, last unit) int {
	return c.counter.Count(text[first.start:last.end])
}

// units segments text according to the boundary preference.
func (c *Chunker) units(text string) []unit {
	var out []unit
	for _, p := range paragraphs(text) {
		if c.cfg.Boundary == BoundaryParagraph {
			p.tokens = c.counter.Count(text[p.start:p.end])
			if p.tokens <= c.cfg.TargetTokens {
				out = append(out, p)
				continue
			}
		}
		for _, s := range sentences(text, p.start, p.end) {
			s.tokens = c.counter.Count(text[s.start:s.end])
			if s.tokens == 0 {
				// Pure whitespace never reaches here, but a symbol-free span could.
				s.tokens = 1
			}
			out = append(out, s)
		}
	}
	return out
}

// overlapTail returns the longest suffix of units whose span fits the budget.
func (c *Chunker) overlapTail(text string, units []unit, budget int) []unit {
	if budget <= 0 {
		return nil
	}
	last := units[len(units)-1]
	i := len(units)
	for i > 0 && c.spanTokens(text, units[i-1], last) <= budget {
		i--
	}
	tail := make([]unit, len(units)-i)
	copy(tail, units[i:])
	return tail
}
