package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/retry"
)

func newOpenAITestCompleter(t *testing.T, handler http.HandlerFunc) *OpenAICompleter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAICompleter(CompleterConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", MaxTokens: 200})
	require.NoError(t, err)
	return c
}

func TestOpenAICompleter_Complete(t *testing.T) {
	c := newOpenAITestCompleter(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/chat/completions", req.URL.Path)
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxCompletionTokens int `json:"max_completion_tokens"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, DefaultOpenAIModel, body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "Be brief.", body.Messages[0].Content)
		assert.Equal(t, "user", body.Messages[1].Role)
		assert.Equal(t, 200, body.MaxCompletionTokens)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  Restart it [1]. "}}],
			"usage":{"prompt_tokens":40,"completion_tokens":5,"total_tokens":45}}`))
	})

	out, err := c.Complete(context.Background(), Prompt{System: "Be brief.", User: "Question: how?"})
	require.NoError(t, err)
	assert.Equal(t, "Restart it [1].", out.Text)
	assert.Equal(t, domain.Usage{PromptTokens: 40, CompletionTokens: 5, TotalTokens: 45}, out.Usage)
}

func TestOpenAICompleter_ClassifiesStatus(t *testing.T) {
	for status, want := range map[int]retry.Class{
		http.StatusTooManyRequests:    retry.Throttled,
		http.StatusUnauthorized:       retry.Permanent,
		http.StatusServiceUnavailable: retry.Transient,
	} {
		c := newOpenAITestCompleter(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
		})
		_, err := c.Complete(context.Background(), Prompt{System: "s", User: "u"})
		require.Error(t, err)
		assert.Equal(t, want, retry.Classify(err), "status %d", status)
	}
}

func TestNewCompleter(t *testing.T) {
	c, err := NewCompleter(context.Background(), CompleterConfig{Provider: ProviderStub})
	require.NoError(t, err)
	assert.IsType(t, StubCompleter{}, c)

	c, err = NewCompleter(context.Background(), CompleterConfig{Provider: ProviderOpenAI, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompleter{}, c)

	_, err = NewCompleter(context.Background(), CompleterConfig{Provider: ProviderOpenAI})
	assert.Error(t, err)

	_, err = NewCompleter(context.Background(), CompleterConfig{Provider: "llama"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStubCompleter_QuotesPassages(t *testing.T) {
	p := ComposePrompt("what now?", testBlock(), "")
	out, err := StubCompleter{}.Complete(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "Restart the worker. [1] Queues drain hourly. [2]", out.Text)

	citations, warnings := ParseCitations(out.Text, testBlock())
	assert.Len(t, citations, 2)
	assert.Empty(t, warnings)

	out, err = StubCompleter{}.Complete(context.Background(), ComposePrompt("q", domain.ContextBlock{}, ""))
	require.NoError(t, err)
	assert.Equal(t, "I do not know.", out.Text)
}
