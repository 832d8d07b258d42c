package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/retry"
)

type fakeCompleter struct {
	mu      sync.Mutex
	prompts []Prompt
	fn      func(ctx context.Context, call int) (Completion, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, p Prompt) (Completion, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	call := len(f.prompts)
	f.mu.Unlock()
	return f.fn(ctx, call)
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// hang blocks until the call's context ends.
func hang(ctx context.Context, _ int) (Completion, error) {
	<-ctx.Done()
	return Completion{}, ctx.Err()
}

func answer(text string) func(context.Context, int) (Completion, error) {
	return func(context.Context, int) (Completion, error) {
		return Completion{Text: text}, nil
	}
}

func fastRetry() retry.Policy {
	return retry.Policy{
		Base:             time.Millisecond,
		Cap:              2 * time.Millisecond,
		ThrottleAttempts: 3,
		Rand:             func() float64 { return 0 },
	}
}

func newOrchestrator(c Completer, cfg Config) *Orchestrator {
	if cfg.Retry.ThrottleAttempts == 0 {
		cfg.Retry = fastRetry()
	}
	return NewOrchestrator(c, nil, cfg, zerolog.Nop())
}

func testBlock() domain.ContextBlock {
	return domain.ContextBlock{
		Chunks: []domain.CitedChunk{
			{Marker: 1, Chunk: domain.Chunk{ID: "runbook:000000", DocumentID: "runbook", Title: "Runbook", Text: "Restart the worker."}},
			{Marker: 2, Chunk: domain.Chunk{ID: "faq:000003", DocumentID: "faq", Title: "FAQ", Text: "Queues drain hourly."}},
		},
		Tokens: 6,
		Budget: 100,
	}
}

func TestGenerate_MapsCitations(t *testing.T) {
	c := &fakeCompleter{fn: answer("Restart it [1]. It drains hourly [2, 9]. Again [1].")}
	o := newOrchestrator(c, Config{})

	res, err := o.Generate(context.Background(), "How do I fix it?", testBlock(), "")
	require.NoError(t, err)

	assert.Equal(t, []domain.Citation{
		domain.MappedCitation{Marker: 1, ChunkID: "runbook:000000", DocumentID: "runbook", Title: "Runbook"},
		domain.MappedCitation{Marker: 2, ChunkID: "faq:000003", DocumentID: "faq", Title: "FAQ"},
		domain.UnmappedCitation{Marker: 9},
	}, res.Citations)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "[9]")

	assert.Positive(t, res.Usage.PromptTokens)
	assert.Equal(t, res.Usage.PromptTokens+res.Usage.CompletionTokens, res.Usage.TotalTokens)
	assert.Equal(t, 1, c.calls())
}

func TestGenerate_KeepsReportedUsage(t *testing.T) {
	usage := domain.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}
	c := &fakeCompleter{fn: func(context.Context, int) (Completion, error) {
		return Completion{Text: "ok", Usage: usage}, nil
	}}

	res, err := newOrchestrator(c, Config{}).Generate(context.Background(), "q", testBlock(), "")
	require.NoError(t, err)
	assert.Equal(t, usage, res.Usage)
}

func TestGenerate_CallTimeoutIsNotRetried(t *testing.T) {
	c := &fakeCompleter{fn: hang}
	o := newOrchestrator(c, Config{Timeout: 10 * time.Millisecond})

	res, err := o.Generate(context.Background(), "q", testBlock(), "")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrGenerationTimeout)
	assert.Equal(t, 1, c.calls())
}

func TestGenerate_SideEffectFreeRetriesTimeoutOnce(t *testing.T) {
	c := &fakeCompleter{fn: func(ctx context.Context, call int) (Completion, error) {
		if call == 1 {
			return hang(ctx, call)
		}
		return Completion{Text: "second try [1]"}, nil
	}}
	o := newOrchestrator(c, Config{Timeout: 10 * time.Millisecond, SideEffectFree: true})

	res, err := o.Generate(context.Background(), "q", testBlock(), "")
	require.NoError(t, err)
	assert.Equal(t, "second try [1]", res.Answer)
	assert.Equal(t, 2, c.calls())

	c = &fakeCompleter{fn: hang}
	o = newOrchestrator(c, Config{Timeout: 10 * time.Millisecond, SideEffectFree: true})
	_, err = o.Generate(context.Background(), "q", testBlock(), "")
	assert.ErrorIs(t, err, domain.ErrGenerationTimeout)
	assert.Equal(t, 2, c.calls())
}

func TestGenerate_CallerDeadlineWins(t *testing.T) {
	c := &fakeCompleter{fn: hang}
	o := newOrchestrator(c, Config{Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res, err := o.Generate(ctx, "q", testBlock(), "")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrGenerationTimeout)
}

func TestGenerate_Throttling(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		c := &fakeCompleter{fn: func(_ context.Context, call int) (Completion, error) {
			if call == 1 {
				return Completion{}, fmt.Errorf("429: %w", retry.ErrThrottled)
			}
			return Completion{Text: "fine"}, nil
		}}
		res, err := newOrchestrator(c, Config{}).Generate(context.Background(), "q", testBlock(), "")
		require.NoError(t, err)
		assert.Equal(t, "fine", res.Answer)
		assert.Equal(t, 2, c.calls())
	})

	t.Run("exhausted", func(t *testing.T) {
		c := &fakeCompleter{fn: func(context.Context, int) (Completion, error) {
			return Completion{}, retry.ErrThrottled
		}}
		_, err := newOrchestrator(c, Config{}).Generate(context.Background(), "q", testBlock(), "")
		assert.ErrorIs(t, err, domain.ErrRateLimitExceeded)
		assert.Equal(t, 3, c.calls())
	})
}

func TestGenerate_OtherFailuresAreUnavailable(t *testing.T) {
	c := &fakeCompleter{fn: func(context.Context, int) (Completion, error) {
		return Completion{}, errors.New("502 bad gateway")
	}}
	_, err := newOrchestrator(c, Config{}).Generate(context.Background(), "q", testBlock(), "")
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.Equal(t, 1, c.calls())

	c = &fakeCompleter{fn: func(context.Context, int) (Completion, error) {
		return Completion{}, fmt.Errorf("400: %w", retry.ErrPermanent)
	}}
	_, err = newOrchestrator(c, Config{SideEffectFree: true}).Generate(context.Background(), "q", testBlock(), "")
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.Equal(t, 1, c.calls())
}

func TestGenerate_EmptyContext(t *testing.T) {
	c := &fakeCompleter{fn: answer("I do not know.")}

	res, err := newOrchestrator(c, Config{}).Generate(context.Background(), "q", domain.ContextBlock{}, "")
	require.NoError(t, err)
	assert.Equal(t, "I do not know.", res.Answer)
	assert.Contains(t, res.Warnings, "no context passages available")
	assert.Contains(t, c.prompts[0].User, noPassages)

	c = &fakeCompleter{fn: answer("unused")}
	res, err = newOrchestrator(c, Config{RequireContext: true}).Generate(context.Background(), "q", domain.ContextBlock{}, "")
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, res.Answer)
	assert.Equal(t, 0, c.calls())
}

func TestGenerate_RejectsEmptyQuery(t *testing.T) {
	c := &fakeCompleter{fn: answer("unused")}
	_, err := newOrchestrator(c, Config{}).Generate(context.Background(), "   ", testBlock(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 0, c.calls())
}

func TestComposePrompt(t *testing.T) {
	p := ComposePrompt(" What restarts the worker? ", testBlock(), "Be brief.")

	assert.Equal(t, "Be brief.", p.System)
	assert.Equal(t, "Context:\n\n[1] Runbook\nRestart the worker.\n\n[2] FAQ\nQueues drain hourly.\n\nQuestion: What restarts the worker?", p.User)
	assert.Equal(t, p, ComposePrompt(" What restarts the worker? ", testBlock(), "Be brief."))

	assert.Equal(t, DefaultInstructions, ComposePrompt("q", testBlock(), "").System)
}

func TestParseCitations(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		markers  []int
		unmapped int
	}{
		{"none", "No markers here.", nil, 0},
		{"single", "Yes [2].", []int{2}, 0},
		{"list with spaces", "Both [1 , 2].", []int{1, 2}, 0},
		{"repeat reported once", "[1] and again [1]", []int{1}, 0},
		{"unknown marker", "See [7].", []int{7}, 1},
		{"not a marker", "Array a[i] and [x].", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			citations, warnings := ParseCitations(tt.answer, testBlock())

			var markers []int
			unmapped := 0
			for _, c := range citations {
				switch c := c.(type) {
				case domain.MappedCitation:
					markers = append(markers, c.Marker)
				case domain.UnmappedCitation:
					markers = append(markers, c.Marker)
					unmapped++
				}
			}
			assert.Equal(t, tt.markers, markers)
			assert.Equal(t, tt.unmapped, unmapped)
			assert.Len(t, warnings, tt.unmapped)
		})
	}
}
