package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docs-rag/internal/retry"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIRemote {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	r, err := NewOpenAIRemote(RemoteConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)
	return r
}

func TestOpenAIRemote_AlignsByIndex(t *testing.T) {
	r := newOpenAITestServer(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/embeddings", req.URL.Path)
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b"}, body.Input)
		assert.Equal(t, DefaultOpenAIModel, body.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":1,"embedding":[0.5,0.25]},
			        {"object":"embedding","index":0,"embedding":[1,0]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	})

	out, err := r.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0.5, 0.25}}, out)
	assert.Equal(t, DefaultOpenAIModel, r.Model().String())
}

func TestOpenAIRemote_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   retry.Class
	}{
		{"throttled", http.StatusTooManyRequests, retry.Throttled},
		{"bad request", http.StatusBadRequest, retry.Permanent},
		{"server error", http.StatusInternalServerError, retry.Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
			})

			_, err := r.EmbedBatch(context.Background(), []string{"a"})
			require.Error(t, err)
			assert.Equal(t, tt.want, retry.Classify(err))
		})
	}
}

func TestNewOpenAIRemote_RequiresKey(t *testing.T) {
	_, err := NewOpenAIRemote(RemoteConfig{})
	assert.Error(t, err)
}

func TestNewRemote_Providers(t *testing.T) {
	r, err := NewRemote(context.Background(), RemoteConfig{Provider: ProviderStub, Dimensions: 8})
	require.NoError(t, err)
	assert.Equal(t, "stub-bow", r.Model().String())

	_, err = NewRemote(context.Background(), RemoteConfig{Provider: "cohere"})
	assert.Error(t, err)
}

func TestDefaultDimension(t *testing.T) {
	assert.Equal(t, 1536, DefaultDimension(ProviderOpenAI))
	assert.Equal(t, 768, DefaultDimension("GenAI"))
	assert.Equal(t, 256, DefaultDimension(ProviderStub))
}

func TestStubRemote_DeterministicAndSimilar(t *testing.T) {
	s := NewStubRemote(64)
	out, err := s.EmbedBatch(context.Background(), []string{
		"vector index search", "Vector index SEARCH!", "banana bread recipe",
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Len(t, out[0], 64)
	assert.Equal(t, out[0], out[1])

	dot := func(a, b []float32) float32 {
		var s float32
		for i := range a {
			s += a[i] * b[i]
		}
		return s
	}
	assert.InDelta(t, 1.0, dot(out[0], out[0]), 1e-5)
	assert.Less(t, dot(out[0], out[2]), dot(out[0], out[1]))
}

func TestGenAITaskType(t *testing.T) {
	assert.Equal(t, "RETRIEVAL_DOCUMENT", genaiTaskType(TaskFrom(context.Background())))
	assert.Equal(t, "RETRIEVAL_QUERY", genaiTaskType(TaskFrom(WithTask(context.Background(), TaskQuery))))
}
