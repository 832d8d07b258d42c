// Package config loads settings with precedence defaults < YAML file < environment < flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bull/docs-rag/internal/domain"
)

const envPrefix = "RAG"

type Specification struct {
	LogLevel     string `yaml:"logLevel" split_words:"true" validate:"oneof=debug info warn error"`
	OpenAIAPIKey string `yaml:"openaiApiKey" envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey string `yaml:"geminiApiKey" envconfig:"GEMINI_API_KEY"`
	GitHubToken  string `yaml:"githubToken" envconfig:"GITHUB_TOKEN"`

	Embedding  EmbeddingSpecification  `yaml:"embedding"`
	Generation GenerationSpecification `yaml:"generation"`
	Index      IndexSpecification      `yaml:"index"`
	Chunking   ChunkingSpecification   `yaml:"chunking"`
	Retrieval  RetrievalSpecification  `yaml:"retrieval"`
	GitHub     GitHubSpecification     `yaml:"github"`
	Jobs       JobsSpecification       `yaml:"jobs"`
}

type EmbeddingSpecification struct {
	Provider          string        `yaml:"provider" validate:"oneof=openai genai stub"`
	Model             string        `yaml:"model"`
	Version           string        `yaml:"version"`
	BaseURL           string        `yaml:"baseURL" split_words:"true"`
	Dimensions        int           `yaml:"dimensions" validate:"gte=0"`
	BatchSize         int           `yaml:"batchSize" split_words:"true" validate:"gte=1"`
	BatchTokens       int           `yaml:"batchTokens" split_words:"true" validate:"gte=1"`
	MaxItemTokens     int           `yaml:"maxItemTokens" split_words:"true" validate:"gte=1"`
	MaxInFlight       int           `yaml:"maxInFlight" split_words:"true" validate:"gte=1"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" split_words:"true" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	CacheSize         int           `yaml:"cacheSize" split_words:"true" validate:"gte=1"`
	CacheTTL          time.Duration `yaml:"cacheTTL" split_words:"true" validate:"gte=0"`
	ThrottleAttempts  int           `yaml:"throttleAttempts" split_words:"true" validate:"gte=1"`
	TransientAttempts int           `yaml:"transientAttempts" split_words:"true" validate:"gte=1"`
	BackoffBase       time.Duration `yaml:"backoffBase" split_words:"true" validate:"gt=0"`
	BackoffCap        time.Duration `yaml:"backoffCap" split_words:"true" validate:"gtefield=BackoffBase"`
}

type GenerationSpecification struct {
	Provider          string        `yaml:"provider" validate:"oneof=openai genai stub"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"baseURL" split_words:"true"`
	MaxTokens         int           `yaml:"maxTokens" split_words:"true" validate:"gte=0"`
	Temperature       float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	SideEffectFree    bool          `yaml:"sideEffectFree" split_words:"true"`
	RequireContext    bool          `yaml:"requireContext" split_words:"true"`
	ThrottleAttempts  int           `yaml:"throttleAttempts" split_words:"true" validate:"gte=1"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" split_words:"true" validate:"gte=0"`
	Instructions      string        `yaml:"instructions"`
}

type IndexSpecification struct {
	Backend      string `yaml:"backend" validate:"oneof=memory qdrant pgvector"`
	QdrantHost   string `yaml:"qdrantHost" split_words:"true" validate:"required_if=Backend qdrant"`
	QdrantPort   int    `yaml:"qdrantPort" split_words:"true" validate:"gte=0,lte=65535"`
	QdrantAPIKey string `yaml:"qdrantApiKey" split_words:"true"`
	QdrantTLS    bool   `yaml:"qdrantTLS" split_words:"true"`
	Collection   string `yaml:"collection" validate:"required"`
	DatabaseURL  string `yaml:"databaseURL" split_words:"true" validate:"required_if=Backend pgvector"`
	Table        string `yaml:"table"`
}

type ChunkingSpecification struct {
	TargetTokens int     `yaml:"targetTokens" split_words:"true" validate:"gt=0"`
	Overlap      float64 `yaml:"overlap" validate:"gte=0,lt=1"`
	Boundary     string  `yaml:"boundary" validate:"oneof=sentence paragraph"`
	Tokenizer    string  `yaml:"tokenizer" validate:"oneof=tiktoken words"`
}

type RetrievalSpecification struct {
	TopK          int           `yaml:"topK" split_words:"true" validate:"gt=0"`
	ContextBudget int           `yaml:"contextBudget" split_words:"true" validate:"gt=0"`
	DedupOverlap  float64       `yaml:"dedupOverlap" split_words:"true" validate:"gte=0,lte=1"`
	QueryDeadline time.Duration `yaml:"queryDeadline" split_words:"true" validate:"gt=0"`
}

type GitHubSpecification struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Path  string `yaml:"path"`
	Ref   string `yaml:"ref"`
}

type JobsSpecification struct {
	Retention int `yaml:"retention" validate:"gte=1"`
}

// Default returns the built-in settings: local stub providers and an in-memory index.
func Default() Specification {
	return Specification{
		LogLevel: "info",
		Embedding: EmbeddingSpecification{
			Provider:          "stub",
			BatchSize:         100,
			BatchTokens:       8000,
			MaxItemTokens:     8191,
			MaxInFlight:       4,
			RequestsPerSecond: 50,
			Burst:             10,
			CacheSize:         100000,
			ThrottleAttempts:  5,
			TransientAttempts: 3,
			BackoffBase:       500 * time.Millisecond,
			BackoffCap:        10 * time.Second,
		},
		Generation: GenerationSpecification{
			Provider:         "stub",
			MaxTokens:        800,
			Temperature:      0.2,
			Timeout:          30 * time.Second,
			ThrottleAttempts: 3,
		},
		Index: IndexSpecification{
			Backend:    "memory",
			QdrantHost: "localhost",
			QdrantPort: 6334,
			Collection: "documents",
			Table:      "chunk_vectors",
		},
		Chunking: ChunkingSpecification{
			TargetTokens: 500,
			Overlap:      0.2,
			Boundary:     "sentence",
			Tokenizer:    "tiktoken",
		},
		Retrieval: RetrievalSpecification{
			TopK:          8,
			ContextBudget: 3000,
			DedupOverlap:  0.8,
			QueryDeadline: 60 * time.Second,
		},
		GitHub: GitHubSpecification{
			Ref: "main",
		},
		Jobs: JobsSpecification{
			Retention: 10000,
		},
	}
}

// Load resolves settings from an already parsed flag set registered with BindFlags.
// The config file comes from --config, then RAG_CONFIG, then the first default location found.
func Load(fs *pflag.FlagSet) (Specification, error) {
	cfg := Default()

	path := ""
	if fs != nil && fs.Changed("config") {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{"config/docs-rag.yaml", "./docs-rag.yaml"} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	if fs != nil {
		applyChangedFlags(fs, &cfg)
	}

	if err := cfg.Validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

// Validate checks every field constraint and reports all violations at once.
func (s Specification) Validate() error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", e.Namespace(), e.Tag()))
	}
	return fmt.Errorf("%w: configuration: %s", domain.ErrInvalidInput, strings.Join(msgs, "; "))
}

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
