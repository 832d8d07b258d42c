// Package app builds the retrieval pipeline from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/bull/docs-rag/internal/assembler"
	"github.com/bull/docs-rag/internal/chunker"
	"github.com/bull/docs-rag/internal/config"
	"github.com/bull/docs-rag/internal/embedding"
	"github.com/bull/docs-rag/internal/generation"
	ghclient "github.com/bull/docs-rag/internal/github"
	"github.com/bull/docs-rag/internal/pipeline"
	"github.com/bull/docs-rag/internal/ratelimit"
	"github.com/bull/docs-rag/internal/retry"
	"github.com/bull/docs-rag/internal/storage"
	"github.com/bull/docs-rag/internal/tokenizer"
)

// App owns the pipeline and the resources behind it.
type App struct {
	Config      config.Specification
	Logger      zerolog.Logger
	Index       storage.VectorIndex
	Coordinator *pipeline.Coordinator
}

// NewLogger creates a timestamped JSON logger at level writing to w.
func NewLogger(level string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// New connects the index and builds every pipeline component from cfg.
func New(ctx context.Context, cfg config.Specification, logger zerolog.Logger) (*App, error) {
	counter, err := tokenizer.New(cfg.Chunking.Tokenizer)
	if err != nil {
		return nil, err
	}

	ch, err := chunker.NewChunker(chunker.Config{
		TargetTokens: cfg.Chunking.TargetTokens,
		Overlap:      cfg.Chunking.Overlap,
		Boundary:     chunker.Boundary(cfg.Chunking.Boundary),
	}, counter)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(ctx, cfg, counter, logger)
	if err != nil {
		return nil, err
	}

	dim := cfg.Embedding.Dimensions
	if dim == 0 {
		dim = embedding.DefaultDimension(embedding.Provider(cfg.Embedding.Provider))
	}
	index, err := OpenIndex(ctx, cfg.Index, dim, logger)
	if err != nil {
		return nil, err
	}

	generator, err := newGenerator(ctx, cfg, counter, logger)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	jobs, err := pipeline.NewMemoryJobStore(cfg.Jobs.Retention)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	coord, err := pipeline.NewCoordinator(pipeline.Components{
		Chunker:   ch,
		Embedder:  embedder,
		Index:     index,
		Assembler: assembler.New(counter),
		Generator: generator,
		Jobs:      jobs,
	}, pipeline.Config{
		QueryDeadline: cfg.Retrieval.QueryDeadline,
		TopK:          cfg.Retrieval.TopK,
		ContextBudget: cfg.Retrieval.ContextBudget,
		Dedup:         assembler.DedupPolicy{ByHash: true, OverlapThreshold: cfg.Retrieval.DedupOverlap},
	}, logger)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	logger.Info().
		Str("embedding", embedder.Model().String()).
		Str("generation", cfg.Generation.Provider).
		Str("index", cfg.Index.Backend).
		Int("dimension", dim).
		Msg("pipeline ready")

	return &App{Config: cfg, Logger: logger, Index: index, Coordinator: coord}, nil
}

// Close stops background jobs and releases the index.
func (a *App) Close() error {
	a.Coordinator.Close()
	return a.Index.Close()
}

// GitHubFetcher creates a fetcher for src using the configured token.
func (a *App) GitHubFetcher(src ghclient.Source) (*ghclient.Fetcher, error) {
	client, err := ghclient.NewClient(ghclient.ClientConfig{Token: a.Config.GitHubToken})
	if err != nil {
		return nil, err
	}
	return ghclient.NewFetcher(client, src, a.Logger), nil
}

func newEmbedder(ctx context.Context, cfg config.Specification, counter tokenizer.Counter, logger zerolog.Logger) (*embedding.Client, error) {
	es := cfg.Embedding
	provider := embedding.Provider(es.Provider)

	remote, err := embedding.NewRemote(ctx, embedding.RemoteConfig{
		Provider:   provider,
		APIKey:     apiKey(cfg, es.Provider),
		BaseURL:    es.BaseURL,
		Model:      es.Model,
		Version:    es.Version,
		Dimensions: es.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding remote: %w", err)
	}

	store, err := embedding.NewLRUStore(es.CacheSize, es.CacheTTL)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewTokenBucket(ratelimit.Config{
		RequestsPerSecond: es.RequestsPerSecond,
		Burst:             es.Burst,
	})

	return embedding.NewClient(remote, embedding.NewCache(store, logger), limiter, embedding.Config{
		MaxBatchSize:   es.BatchSize,
		MaxBatchTokens: es.BatchTokens,
		MaxItemTokens:  es.MaxItemTokens,
		MaxInFlight:    es.MaxInFlight,
		Retry: retry.Policy{
			Base:              es.BackoffBase,
			Cap:               es.BackoffCap,
			ThrottleAttempts:  es.ThrottleAttempts,
			TransientAttempts: es.TransientAttempts,
		},
		Counter: counter,
	}, logger), nil
}

func newGenerator(ctx context.Context, cfg config.Specification, counter tokenizer.Counter, logger zerolog.Logger) (*generation.Orchestrator, error) {
	gs := cfg.Generation
	completer, err := generation.NewCompleter(ctx, generation.CompleterConfig{
		Provider:    generation.Provider(gs.Provider),
		APIKey:      apiKey(cfg, gs.Provider),
		BaseURL:     gs.BaseURL,
		Model:       gs.Model,
		MaxTokens:   gs.MaxTokens,
		Temperature: gs.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("create completer: %w", err)
	}

	policy := generation.DefaultRetryPolicy()
	policy.Base = cfg.Embedding.BackoffBase
	policy.Cap = cfg.Embedding.BackoffCap
	policy.ThrottleAttempts = gs.ThrottleAttempts

	limiter := ratelimit.NewTokenBucket(ratelimit.Config{RequestsPerSecond: gs.RequestsPerSecond, Burst: 1})

	return generation.NewOrchestrator(completer, limiter, generation.Config{
		Timeout:        gs.Timeout,
		SideEffectFree: gs.SideEffectFree,
		RequireContext: gs.RequireContext,
		Retry:          policy,
		Counter:        counter,
	}, logger), nil
}

// OpenIndex connects the configured backend and prepares its schema.
func OpenIndex(ctx context.Context, is config.IndexSpecification, dim int, logger zerolog.Logger) (storage.VectorIndex, error) {
	switch is.Backend {
	case "qdrant":
		q, err := storage.NewQdrantStorage(ctx, storage.QdrantConfig{
			Host:       is.QdrantHost,
			Port:       is.QdrantPort,
			APIKey:     is.QdrantAPIKey,
			UseTLS:     is.QdrantTLS,
			Collection: is.Collection,
			Dimension:  dim,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := q.EnsureCollection(ctx); err != nil {
			_ = q.Close()
			return nil, err
		}
		return q, nil
	case "pgvector":
		pg, err := storage.NewPgVectorStorage(ctx, is.DatabaseURL, is.Table, dim)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	case "memory", "":
		return storage.NewMemoryStorage(dim), nil
	default:
		return nil, fmt.Errorf("unsupported index backend %q", is.Backend)
	}
}

func apiKey(cfg config.Specification, provider string) string {
	switch provider {
	case "openai":
		return cfg.OpenAIAPIKey
	case "genai":
		return cfg.GeminiAPIKey
	}
	return ""
}
