package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/bull/docs-rag/internal/domain"
)

// Remote is an embedding service. EmbedBatch returns one vector per input text, in input order.
// Throttling responses must wrap retry.ErrThrottled and request validation failures retry.ErrPermanent.
type Remote interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() domain.ModelID
}

// Task tells a Remote what the embedded text is used for.
// Remotes without asymmetric embeddings ignore it.
type Task int

const (
	TaskDocument Task = iota
	TaskQuery
)

type taskKey struct{}

// WithTask returns a context whose embedding requests are made for task.
func WithTask(ctx context.Context, task Task) context.Context {
	return context.WithValue(ctx, taskKey{}, task)
}

// TaskFrom returns the task set by WithTask, TaskDocument by default.
func TaskFrom(ctx context.Context) Task {
	if t, ok := ctx.Value(taskKey{}).(Task); ok {
		return t
	}
	return TaskDocument
}

// Provider names a Remote implementation.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGenAI  Provider = "genai"
	ProviderStub   Provider = "stub"
)

// RemoteConfig selects and configures a Remote.
type RemoteConfig struct {
	Provider   Provider
	APIKey     string
	BaseURL    string
	Model      string
	Version    string
	Dimensions int
}

// NewRemote creates the Remote named by cfg.Provider.
func NewRemote(ctx context.Context, cfg RemoteConfig) (Remote, error) {
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI, "":
		return NewOpenAIRemote(cfg)
	case ProviderGenAI:
		return NewGenAIRemote(ctx, cfg)
	case ProviderStub:
		return NewStubRemote(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// DefaultDimension is the vector size produced by a provider's default model.
func DefaultDimension(p Provider) int {
	switch Provider(strings.ToLower(string(p))) {
	case ProviderGenAI:
		return 768
	case ProviderStub:
		return 256
	default:
		return DefaultOpenAIDimension
	}
}
