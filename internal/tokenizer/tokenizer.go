// Package tokenizer estimates token counts for chunk sizing and context budgets.
package tokenizer

import (
	"fmt"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE used by the OpenAI embedding and chat models.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in a piece of text.
// Implementations must be deterministic and safe for concurrent use.
type Counter interface {
	Count(text string) int
}

// Words approximates tokens as words plus standalone punctuation.
// It needs no model tables, which makes it the counter of choice in tests.
type Words struct{}

// Count implements Counter.
func (Words) Count(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			inWord = false
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// Punctuation glued to a word is part of that word's token.
			if !inWord {
				n++
			}
		default:
			if !inWord {
				n++
				inWord = true
			}
		}
	}
	return n
}

var loaderOnce sync.Once

// Tiktoken counts tokens with a real BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding from the bundled offline tables.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// New returns the counter named by kind: "tiktoken" or "words".
func New(kind string) (Counter, error) {
	switch kind {
	case "", "tiktoken":
		return NewTiktoken(DefaultEncoding)
	case "words":
		return Words{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", kind)
	}
}
