package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/retry"
)

// DefaultGenAIModel is the Gemini model used when none is configured.
const DefaultGenAIModel = "gemini-2.0-flash"

// GenAICompleter answers through the Gemini API.
type GenAICompleter struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewGenAICompleter creates a Gemini backend.
func NewGenAICompleter(ctx context.Context, cfg CompleterConfig) (*GenAICompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGenAIModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GenAICompleter{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete implements Completer.
func (c *GenAICompleter) Complete(ctx context.Context, p Prompt) (Completion, error) {
	temp := float32(c.temperature)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		SystemInstruction: genai.Text(p.System)[0],
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.maxTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(p.User), &cfg)
	if err != nil {
		return Completion{}, classifyGenAIError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Completion{}, errNoChoices
	}

	out := Completion{Text: strings.TrimSpace(resp.Text())}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = domain.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retry.MarkStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return retry.MarkStatus(apiErrPtr.Code, err)
	}
	return err
}
