package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/retry"
)

// DefaultGenAIModel is the Gemini embedding model used when none is configured.
const DefaultGenAIModel = "text-embedding-004"

// GenAIRemote calls the Gemini embedding API.
type GenAIRemote struct {
	client     *genai.Client
	model      string
	version    string
	dimensions int
}

// NewGenAIRemote creates a Gemini embedding remote.
func NewGenAIRemote(ctx context.Context, cfg RemoteConfig) (*GenAIRemote, error) {
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

	return &GenAIRemote{
		client:     client,
		model:      cfg.Model,
		version:    cfg.Version,
		dimensions: cfg.Dimensions,
	}, nil
}

// Model implements Remote.
func (r *GenAIRemote) Model() domain.ModelID {
	return domain.ModelID{Name: r.model, Version: r.version}
}

// EmbedBatch implements Remote.
func (r *GenAIRemote) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)...)
	}

	cfg := genai.EmbedContentConfig{TaskType: genaiTaskType(TaskFrom(ctx))}
	if r.dimensions > 0 {
		dim := int32(r.dimensions)
		cfg.OutputDimensionality = &dim
	}

	res, err := r.client.Models.EmbedContent(ctx, r.model, contents, &cfg)
	if err != nil {
		return nil, classifyGenAIError(err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, errors.New("gemini returned an incomplete embedding batch")
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func genaiTaskType(t Task) string {
	if t == TaskQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
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
