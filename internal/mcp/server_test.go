package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docs-rag/internal/app"
	"github.com/bull/docs-rag/internal/config"
)

func newSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Chunking.Tokenizer = "words"
	cfg.Chunking.TargetTokens = 40
	a, err := app.New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	_, err = NewServer(a.Coordinator, "test", zerolog.Nop()).Connect(ctx, serverTransport)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// call invokes a tool and decodes its structured output into out.
func call(t *testing.T, s *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return res
}

func TestTools_Listed(t *testing.T) {
	s := newSession(t)

	res, err := s.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ingest_document", "query", "job_status", "index_status"}, names)
}

func TestIngestAndQuery(t *testing.T) {
	s := newSession(t)

	var job JobOutput
	res := call(t, s, "ingest_document", map[string]any{
		"id":    "ops/restart.md",
		"title": "Restarting",
		"text":  "Restart the ingest worker with the restart command. The worker drains its queue first.",
		"wait":  true,
	}, &job)
	require.False(t, res.IsError)
	assert.True(t, job.Found)
	assert.Equal(t, "complete", job.State)
	assert.Positive(t, job.IndexedChunks)

	var answer QueryOutput
	res = call(t, s, "query", map[string]any{"question": "How do I restart the ingest worker?"}, &answer)
	require.False(t, res.IsError)
	require.NotEmpty(t, answer.Passages)
	assert.Equal(t, 1, answer.Passages[0].Marker)
	assert.Equal(t, "ops/restart.md", answer.Passages[0].DocumentID)
	require.NotEmpty(t, answer.Citations)
	assert.True(t, answer.Citations[0].Mapped)
	assert.Equal(t, "Restarting", answer.Citations[0].Title)
	assert.False(t, answer.NoMatches)

	var status IndexStatusOutput
	call(t, s, "index_status", map[string]any{}, &status)
	assert.True(t, status.Healthy)
	assert.Equal(t, uint64(job.IndexedChunks), status.IndexedChunks)
	assert.Equal(t, "stub-bow", status.Model)
	assert.Equal(t, 1, status.Jobs["complete"])
}

func TestIngestInBackgroundThenPoll(t *testing.T) {
	s := newSession(t)

	var job JobOutput
	call(t, s, "ingest_document", map[string]any{"id": "faq.txt", "text": "Backups run nightly at two."}, &job)
	require.True(t, job.Found)
	require.NotEmpty(t, job.JobID)

	assert.Eventually(t, func() bool {
		var polled JobOutput
		call(t, s, "job_status", map[string]any{"job_id": job.JobID}, &polled)
		return polled.State == "complete"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJobStatus_UnknownAndInvalid(t *testing.T) {
	s := newSession(t)

	var job JobOutput
	res := call(t, s, "job_status", map[string]any{"job_id": "7d444840-9dc0-11d1-b245-5ffdce74fad2"}, &job)
	require.False(t, res.IsError)
	assert.False(t, job.Found)

	res = call(t, s, "job_status", map[string]any{"job_id": "not-a-uuid"}, nil)
	assert.True(t, res.IsError)
}

func TestQuery_EmptyQuestionIsToolError(t *testing.T) {
	s := newSession(t)

	res := call(t, s, "query", map[string]any{"question": "  "}, nil)
	assert.True(t, res.IsError)
}
