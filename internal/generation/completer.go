package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/bull/docs-rag/internal/domain"
)

// Completion is the raw answer of a Completer.
type Completion struct {
	Text  string
	Usage domain.Usage // Zero when the backend does not report usage
}

// Completer produces an answer for a composed prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// Provider selects a Completer backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGenAI  Provider = "genai"
	ProviderStub   Provider = "stub"
)

// CompleterConfig configures any Completer backend.
type CompleterConfig struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewCompleter creates the backend named by cfg.Provider.
func NewCompleter(ctx context.Context, cfg CompleterConfig) (Completer, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAICompleter(cfg)
	case ProviderGenAI:
		return NewGenAICompleter(ctx, cfg)
	case ProviderStub:
		return StubCompleter{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported generation provider %q", domain.ErrInvalidInput, cfg.Provider)
	}
}

var errNoChoices = errors.New("completion returned no choices")
