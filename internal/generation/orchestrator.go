// Package generation composes grounded prompts, calls a generation backend under a
// timeout and retry policy, and maps citation markers in the answer back to chunks.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/ratelimit"
	"github.com/bull/docs-rag/internal/retry"
	"github.com/bull/docs-rag/internal/tokenizer"
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 30 * time.Second

// NoContextAnswer is returned without calling the backend when context is required but empty.
const NoContextAnswer = "No indexed passage matches the question."

// Config tunes the Orchestrator.
type Config struct {
	Timeout        time.Duration
	SideEffectFree bool // Allows one retry after a timeout or transient failure
	RequireContext bool // Refuses to generate from an empty context block
	Retry          retry.Policy
	Counter        tokenizer.Counter // Estimates usage when the backend reports none
}

// DefaultRetryPolicy retries throttling fewer times than embedding does.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		Base:              500 * time.Millisecond,
		Cap:               10 * time.Second,
		ThrottleAttempts:  3,
		TransientAttempts: 1,
	}
}

// errCallTimeout marks an attempt that ran out its own timeout while the caller's context was still live.
var errCallTimeout = errors.New("generation call timed out")

// Orchestrator produces grounded answers.
type Orchestrator struct {
	completer Completer
	limiter   ratelimit.Limiter
	cfg       Config
	logger    zerolog.Logger
}

// NewOrchestrator creates an orchestrator. A nil limiter never blocks.
func NewOrchestrator(completer Completer, limiter ratelimit.Limiter, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.ThrottleAttempts == 0 && cfg.Retry.TransientAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	cfg.Retry.TransientAttempts = 1
	if cfg.SideEffectFree {
		cfg.Retry.TransientAttempts = 2
	}
	if cfg.Counter == nil {
		cfg.Counter = tokenizer.Words{}
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited()
	}
	return &Orchestrator{
		completer: completer,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Generate answers query from block. Empty instructions select DefaultInstructions.
// If ctx ends first its error is returned unchanged; a call exceeding Config.Timeout
// yields ErrGenerationTimeout.
func (o *Orchestrator) Generate(ctx context.Context, query string, block domain.ContextBlock, instructions string) (*domain.GenerationResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}

	start := time.Now()
	var warnings []string
	if block.Empty() {
		if o.cfg.RequireContext {
			return &domain.GenerationResult{
				Answer:   NoContextAnswer,
				Latency:  time.Since(start),
				Warnings: []string{"no context passages available, generation skipped"},
			}, nil
		}
		warnings = append(warnings, "no context passages available")
	}

	prompt := ComposePrompt(query, block, instructions)
	completion, attempts, err := o.complete(ctx, prompt)
	if err != nil {
		o.logger.Error().Err(err).Int("attempts", attempts).Msg("generation failed")
		return nil, err
	}

	citations, citeWarnings := ParseCitations(completion.Text, block)
	warnings = append(warnings, citeWarnings...)
	for _, w := range citeWarnings {
		o.logger.Warn().Str("answer_warning", w).Msg("unmapped citation")
	}

	usage := completion.Usage
	if usage.TotalTokens == 0 {
		usage.PromptTokens = o.cfg.Counter.Count(prompt.Text())
		usage.CompletionTokens = o.cfg.Counter.Count(completion.Text)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	result := &domain.GenerationResult{
		Answer:    completion.Text,
		Citations: citations,
		Usage:     usage,
		Latency:   time.Since(start),
		Warnings:  warnings,
	}
	o.logger.Debug().
		Int("attempts", attempts).
		Int("citations", len(citations)).
		Int("total_tokens", usage.TotalTokens).
		Dur("latency", result.Latency).
		Msg("generation complete")
	return result, nil
}

// complete runs the backend under the retry policy, each attempt under its own timeout.
func (o *Orchestrator) complete(ctx context.Context, prompt Prompt) (Completion, int, error) {
	var out Completion
	operation := func(ctx context.Context) error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()

		c, err := o.completer.Complete(callCtx, prompt)
		if err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s: %w", errCallTimeout, o.cfg.Timeout, err)
			}
			return err
		}
		out = c
		return nil
	}

	notify := func(err error, class retry.Class, attempt int, wait time.Duration) {
		if class == retry.Throttled {
			if p, ok := o.limiter.(interface{ Pause(time.Duration) }); ok {
				p.Pause(wait)
			}
		}
		o.logger.Warn().Err(err).
			Str("class", class.String()).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("generation call failed, retrying")
	}

	attempts, err := retry.Do(ctx, o.cfg.Retry, operation, notify)
	if err == nil {
		return out, attempts, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Completion{}, attempts, ctxErr
	}

	var exhausted *retry.ExhaustedError
	switch {
	case errors.Is(err, errCallTimeout):
		return Completion{}, attempts, fmt.Errorf("%w: %w", domain.ErrGenerationTimeout, err)
	case errors.As(err, &exhausted) && exhausted.Class == retry.Throttled:
		return Completion{}, attempts, fmt.Errorf("%w: %w", domain.ErrRateLimitExceeded, err)
	default:
		return Completion{}, attempts, fmt.Errorf("%w: %w", domain.ErrGenerationUnavailable, err)
	}
}
