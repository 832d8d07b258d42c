// Package main provides the MCP server entry point for document retrieval and grounded answers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/bull/docs-rag/internal/app"
	"github.com/bull/docs-rag/internal/config"
	mcpserver "github.com/bull/docs-rag/internal/mcp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	fs := pflag.NewFlagSet("docs-rag-mcp", pflag.ExitOnError)
	config.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	// Stdout carries the MCP stream, so logs go to stderr.
	logger, err := app.NewLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	defer a.Close()

	server := mcpserver.NewServer(a.Coordinator, version, logger)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
