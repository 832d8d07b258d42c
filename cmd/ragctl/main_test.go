package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_LoadsDirectoryAndCites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "restart.md"),
		[]byte("# Restarting\n\nRestart the ingest worker with the restart command.\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"query", "--tokenizer", "words", "--log-level", "error", "--load", dir, "How do I restart the ingest worker?"})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "[1]")
	assert.Contains(t, out.String(), "Sources:")
	assert.Contains(t, out.String(), "restart.md")
}

func TestIngestDir_Rebuild(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy.md"),
		[]byte("# Deploying\n\nDeploy with the release pipeline.\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"ingest-dir", "--tokenizer", "words", "--log-level", "error", "--rebuild", dir})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Rebuilding index from 1 documents...")
	assert.Contains(t, out.String(), "Documents: 1/1")
}
