package generation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bull/docs-rag/internal/domain"
)

// markerPattern matches [3] and [1, 4] style citation markers.
var markerPattern = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// ParseCitations maps every marker in answer to the chunk carrying it in block.
// Markers are reported once each, in order of first appearance. A marker with no
// chunk becomes an UnmappedCitation and a warning.
func ParseCitations(answer string, block domain.ContextBlock) ([]domain.Citation, []string) {
	var citations []domain.Citation
	var warnings []string
	seen := make(map[int]bool)

	for _, m := range markerPattern.FindAllStringSubmatch(answer, -1) {
		for _, part := range strings.Split(m[1], ",") {
			marker, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || seen[marker] {
				continue
			}
			seen[marker] = true

			cited, ok := block.Lookup(marker)
			if !ok {
				citations = append(citations, domain.UnmappedCitation{Marker: marker})
				warnings = append(warnings, fmt.Sprintf("answer cites [%d] but no such passage was provided", marker))
				continue
			}
			citations = append(citations, domain.MappedCitation{
				Marker:     marker,
				ChunkID:    cited.Chunk.ID,
				DocumentID: cited.Chunk.DocumentID,
				Title:      cited.Chunk.Title,
			})
		}
	}
	return citations, warnings
}
