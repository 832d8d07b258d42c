package generation

import (
	"strings"

	"github.com/bull/docs-rag/internal/assembler"
	"github.com/bull/docs-rag/internal/domain"
)

// DefaultInstructions ground the answer in the numbered passages.
const DefaultInstructions = `Answer the question using only the numbered context passages.
Cite every passage you rely on with its marker, for example [1] or [2, 3].
If the passages do not contain the answer, say that you do not know.`

// noPassages stands in for the context when nothing was retrieved.
const noPassages = "(no passages matched the question)"

// Prompt is the composed input to a Completer.
type Prompt struct {
	System string // Instructions
	User   string // Context passages followed by the question
}

// Text flattens the prompt for backends without a system role and for token estimates.
func (p Prompt) Text() string {
	return p.System + "\n\n" + p.User
}

// ComposePrompt builds the prompt for query over block. The same inputs always
// produce the same prompt: instructions, then each passage tagged [n], then the question.
func ComposePrompt(query string, block domain.ContextBlock, instructions string) Prompt {
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}

	passages := assembler.Render(block)
	if passages == "" {
		passages = noPassages
	}

	var b strings.Builder
	b.WriteString("Context:\n\n")
	b.WriteString(passages)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(query))

	return Prompt{System: strings.TrimSpace(instructions), User: b.String()}
}
