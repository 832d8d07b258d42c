// Package assembler selects search results into a token-budgeted, citable context block.
package assembler

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/tokenizer"
)

// DefaultOverlapThreshold marks two chunks as near duplicates.
const DefaultOverlapThreshold = 0.8

// DedupPolicy controls near-duplicate detection.
type DedupPolicy struct {
	// ByHash skips chunks whose content hash equals a selected chunk's.
	ByHash bool
	// OverlapThreshold skips chunks overlapping a selected chunk by at least this ratio:
	// byte span overlap within a document, word-set Jaccard across documents.
	// Zero disables overlap checks.
	OverlapThreshold float64
}

// DefaultDedupPolicy enables both checks at DefaultOverlapThreshold.
func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{ByHash: true, OverlapThreshold: DefaultOverlapThreshold}
}

// Assembler builds context blocks. It is stateless and safe for concurrent use.
type Assembler struct {
	counter tokenizer.Counter
}

// New creates an assembler that counts tokens for chunks lacking a precomputed count.
func New(counter tokenizer.Counter) *Assembler {
	if counter == nil {
		counter = tokenizer.Words{}
	}
	return &Assembler{counter: counter}
}

type candidate struct {
	result domain.SearchResult
	cost   int
	words  map[string]struct{}
}

// Assemble walks results in the given rank order and keeps every chunk that is not a
// near duplicate and still fits the budget. It does not stop at the first chunk that
// does not fit, since a later, shorter chunk may. The block never exceeds budget;
// when nothing fits it is empty.
func (a *Assembler) Assemble(results []domain.SearchResult, budget int, policy DedupPolicy) domain.ContextBlock {
	if budget < 0 {
		budget = 0
	}
	block := domain.ContextBlock{Budget: budget}

	var selected []candidate
	used := 0
	for _, r := range results {
		cost := r.Chunk.Tokens
		if cost <= 0 {
			cost = a.counter.Count(r.Chunk.Text)
		}
		if used+cost > budget {
			continue
		}
		c := candidate{result: r, cost: cost}
		if policy.OverlapThreshold > 0 {
			c.words = wordSet(r.Chunk.Text)
		}
		if duplicate(c, selected, policy) {
			continue
		}
		selected = append(selected, c)
		used += cost
	}

	reorderWithinDocuments(selected)

	for i, c := range selected {
		block.Chunks = append(block.Chunks, domain.CitedChunk{
			Marker: i + 1,
			Chunk:  c.result.Chunk,
			Score:  c.result.Score,
		})
	}
	block.Tokens = used
	return block
}

// Render formats the block as the context section of a prompt.
func Render(block domain.ContextBlock) string {
	var b strings.Builder
	for i, c := range block.Chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := c.Chunk.Title
		if title == "" {
			title = c.Chunk.DocumentID
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", c.Marker, title, strings.TrimSpace(c.Chunk.Text))
	}
	return b.String()
}

func duplicate(c candidate, selected []candidate, policy DedupPolicy) bool {
	for _, s := range selected {
		if policy.ByHash && c.result.Chunk.Hash != "" && c.result.Chunk.Hash == s.result.Chunk.Hash {
			return true
		}
		if policy.OverlapThreshold <= 0 {
			continue
		}
		if c.result.DocumentID == s.result.DocumentID {
			if spanOverlap(c.result.Chunk, s.result.Chunk) >= policy.OverlapThreshold {
				return true
			}
			continue
		}
		if jaccard(c.words, s.words) >= policy.OverlapThreshold {
			return true
		}
	}
	return false
}

// spanOverlap is the shared byte span of two chunks relative to the shorter one.
func spanOverlap(a, b domain.Chunk) float64 {
	shorter := min(a.End-a.Start, b.End-b.Start)
	if shorter <= 0 {
		return 0
	}
	overlap := min(a.End, b.End) - max(a.Start, b.Start)
	if overlap <= 0 {
		return 0
	}
	return float64(overlap) / float64(shorter)
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// reorderWithinDocuments puts each document's chunks back in ordinal order while
// keeping the rank positions that document occupies.
func reorderWithinDocuments(selected []candidate) {
	slots := make(map[string][]int)
	var docs []string
	for i, c := range selected {
		doc := c.result.DocumentID
		if _, ok := slots[doc]; !ok {
			docs = append(docs, doc)
		}
		slots[doc] = append(slots[doc], i)
	}

	for _, doc := range docs {
		positions := slots[doc]
		if len(positions) < 2 {
			continue
		}
		chunks := make([]candidate, len(positions))
		for i, p := range positions {
			chunks[i] = selected[p]
		}
		sort.SliceStable(chunks, func(i, j int) bool {
			return chunks[i].result.Chunk.Ordinal < chunks[j].result.Chunk.Ordinal
		})
		for i, p := range positions {
			selected[p] = chunks[i]
		}
	}
}
