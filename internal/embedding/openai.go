package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/retry"
)

const (
	// DefaultOpenAIModel is the OpenAI model used for generating embeddings.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultOpenAIDimension is the vector dimension for text-embedding-3-small.
	DefaultOpenAIDimension = 1536
)

// OpenAIRemote calls the OpenAI embeddings API.
// Retries are disabled in the SDK; the Client applies its own policy.
type OpenAIRemote struct {
	client     openai.Client
	model      string
	version    string
	dimensions int
}

// NewOpenAIRemote creates an OpenAI embedding remote.
// It returns an error if no API key is configured.
func NewOpenAIRemote(cfg RemoteConfig) (*OpenAIRemote, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIRemote{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		version:    cfg.Version,
		dimensions: cfg.Dimensions,
	}, nil
}

// Model implements Remote.
func (r *OpenAIRemote) Model() domain.ModelID {
	return domain.ModelID{Name: r.model, Version: r.version}
}

// EmbedBatch implements Remote.
func (r *OpenAIRemote) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(r.model),
	}
	if r.dimensions > 0 && r.model != "text-embedding-ada-002" {
		params.Dimensions = openai.Int(int64(r.dimensions))
	}

	resp, err := r.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// Data carries its input index; do not rely on response order.
	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fmt.Errorf("openai returned out of range index %d", data.Index)
		}
		embeddings[data.Index] = toFloat32(data.Embedding)
	}
	return embeddings, nil
}

// classifyOpenAIError tags API errors with their retry class.
// 429 is throttling, other 4xx (except timeouts and conflicts) are permanent, the rest transient.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return retry.MarkStatus(apiErr.StatusCode, err)
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
