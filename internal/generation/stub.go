package generation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var passageHeader = regexp.MustCompile(`^\[(\d+)\] `)

// StubCompleter answers offline by quoting the first sentence of every passage
// with its marker. It is deterministic and never fails.
type StubCompleter struct{}

// Complete implements Completer.
func (StubCompleter) Complete(_ context.Context, p Prompt) (Completion, error) {
	lines := strings.Split(p.User, "\n")

	var parts []string
	for i, line := range lines {
		m := passageHeader.FindStringSubmatch(line)
		if m == nil || i+1 >= len(lines) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s [%s]", firstSentence(lines[i+1]), m[1]))
	}
	if len(parts) == 0 {
		return Completion{Text: "I do not know."}, nil
	}
	return Completion{Text: strings.Join(parts, " ")}, nil
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		return text[:i+1]
	}
	return text
}
