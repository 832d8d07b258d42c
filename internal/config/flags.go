package config

import (
	"time"

	"github.com/spf13/pflag"
)

// BindFlags registers the command-line overrides on fs. Defaults shown in help
// are the built-in ones; only flags set explicitly override file and environment.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("config", "", "Path to config file")
	fs.String("log-level", d.LogLevel, "Log level (debug|info|warn|error)")

	fs.String("embedding-provider", d.Embedding.Provider, "Embedding provider (openai|genai|stub)")
	fs.String("embedding-model", d.Embedding.Model, "Embedding model")
	fs.Int("embedding-dim", d.Embedding.Dimensions, "Embedding dimensionality (0 = model default)")
	fs.Int("max-in-flight", d.Embedding.MaxInFlight, "Concurrent embedding requests")

	fs.String("generation-provider", d.Generation.Provider, "Generation provider (openai|genai|stub)")
	fs.String("generation-model", d.Generation.Model, "Generation model")
	fs.Duration("generation-timeout", d.Generation.Timeout, "Timeout of one generation call")

	fs.String("index", d.Index.Backend, "Vector index backend (memory|qdrant|pgvector)")
	fs.String("qdrant-host", d.Index.QdrantHost, "Qdrant host")
	fs.Int("qdrant-port", d.Index.QdrantPort, "Qdrant gRPC port")
	fs.String("collection", d.Index.Collection, "Qdrant collection name")
	fs.String("database-url", d.Index.DatabaseURL, "PostgreSQL URL for the pgvector backend")

	fs.Int("chunk-size", d.Chunking.TargetTokens, "Target chunk size in tokens")
	fs.Float64("chunk-overlap", d.Chunking.Overlap, "Chunk overlap as a fraction of the chunk size")
	fs.String("boundary", d.Chunking.Boundary, "Preferred chunk boundary (sentence|paragraph)")
	fs.String("tokenizer", d.Chunking.Tokenizer, "Token counter (tiktoken|words)")

	fs.Int("top-k", d.Retrieval.TopK, "Nearest neighbours retrieved per query")
	fs.Int("context-budget", d.Retrieval.ContextBudget, "Token budget of the assembled context")
	fs.Duration("query-deadline", d.Retrieval.QueryDeadline, "Deadline of a whole query")

	fs.String("github-token", "", "GitHub API token")
	fs.String("github-owner", d.GitHub.Owner, "GitHub repository owner")
	fs.String("github-repo", d.GitHub.Repo, "GitHub repository name")
	fs.String("github-path", d.GitHub.Path, "Directory of the repository to ingest")
	fs.String("github-ref", d.GitHub.Ref, "Git reference (branch|tag|sha)")
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst, _ = fs.GetString(name)
		}
	}
	setInt := func(name string, dst *int) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst, _ = fs.GetInt(name)
		}
	}
	setFloat := func(name string, dst *float64) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst, _ = fs.GetFloat64(name)
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst, _ = fs.GetDuration(name)
		}
	}

	setStr("log-level", &c.LogLevel)

	setStr("embedding-provider", &c.Embedding.Provider)
	setStr("embedding-model", &c.Embedding.Model)
	setInt("embedding-dim", &c.Embedding.Dimensions)
	setInt("max-in-flight", &c.Embedding.MaxInFlight)

	setStr("generation-provider", &c.Generation.Provider)
	setStr("generation-model", &c.Generation.Model)
	setDur("generation-timeout", &c.Generation.Timeout)

	setStr("index", &c.Index.Backend)
	setStr("qdrant-host", &c.Index.QdrantHost)
	setInt("qdrant-port", &c.Index.QdrantPort)
	setStr("collection", &c.Index.Collection)
	setStr("database-url", &c.Index.DatabaseURL)

	setInt("chunk-size", &c.Chunking.TargetTokens)
	setFloat("chunk-overlap", &c.Chunking.Overlap)
	setStr("boundary", &c.Chunking.Boundary)
	setStr("tokenizer", &c.Chunking.Tokenizer)

	setInt("top-k", &c.Retrieval.TopK)
	setInt("context-budget", &c.Retrieval.ContextBudget)
	setDur("query-deadline", &c.Retrieval.QueryDeadline)

	setStr("github-token", &c.GitHubToken)
	setStr("github-owner", &c.GitHub.Owner)
	setStr("github-repo", &c.GitHub.Repo)
	setStr("github-path", &c.GitHub.Path)
	setStr("github-ref", &c.GitHub.Ref)
}
