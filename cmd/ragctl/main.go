// Package main provides the ragctl CLI for ingesting documents and asking grounded questions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docs-rag/internal/app"
	"github.com/bull/docs-rag/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Document retrieval and grounded answering",
	Long: `CLI for chunking, embedding and indexing documents and answering
questions from the indexed passages with citations.

Settings come from built-in defaults, then the config file
(--config, RAG_CONFIG or config/docs-rag.yaml), then RAG_* environment
variables, then flags.

Environment variables:
  OPENAI_API_KEY  OpenAI key for the openai providers
  GEMINI_API_KEY  Gemini key for the genai providers
  GITHUB_TOKEN    GitHub token for higher rate limits (optional)`,
	SilenceUsage: true,
}

func init() {
	config.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(ingestCmd, ingestDirCmd, syncGitHubCmd, queryCmd, statusCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// open loads the configuration from cmd's flags and builds the pipeline.
func open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline: %w", err)
	}
	return a, nil
}
