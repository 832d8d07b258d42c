// Package embedding turns text into vectors through a remote embedding service,
// with batching, rate limiting, bounded retries and a coalescing cache.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bull/docs-rag/internal/domain"
	"github.com/bull/docs-rag/internal/ratelimit"
	"github.com/bull/docs-rag/internal/retry"
	"github.com/bull/docs-rag/internal/tokenizer"
)

const (
	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	DefaultBatchSize = 100

	// DefaultBatchTokens bounds the summed token estimate of one request.
	DefaultBatchTokens = 8000

	// DefaultMaxItemTokens is the input limit of the OpenAI embedding models.
	DefaultMaxItemTokens = 8191

	// DefaultMaxInFlight bounds concurrent batch requests.
	DefaultMaxInFlight = 4
)

// Config tunes the Client.
type Config struct {
	MaxBatchSize   int
	MaxBatchTokens int
	MaxItemTokens  int
	MaxInFlight    int
	Retry          retry.Policy
	Counter        tokenizer.Counter
}

// DefaultRetryPolicy mirrors the backoff used for every remote dependency:
// 500ms initial interval, 10s ceiling, five throttled and three transient attempts.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		Base:              500 * time.Millisecond,
		Cap:               10 * time.Second,
		ThrottleAttempts:  5,
		TransientAttempts: 3,
	}
}

// Pauser is implemented by limiters that can hold back all callers after throttling.
type Pauser interface {
	Pause(d time.Duration)
}

// ItemFailure records why one input could not be embedded.
type ItemFailure struct {
	Index int
	Err   error
}

// Result is the outcome of Embed. Vectors is aligned with the input;
// entries listed in Failures are zero values.
type Result struct {
	Vectors  []domain.EmbeddingVector
	Failures []ItemFailure
	Attempts int // Remote calls made, including retries
}

// Err joins all item failures, or returns nil if every item was embedded.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f.Err
	}
	return errors.Join(errs...)
}

// Failed returns the failure for input index i, if any.
func (r *Result) Failed(i int) error {
	for _, f := range r.Failures {
		if f.Index == i {
			return f.Err
		}
	}
	return nil
}

// Client embeds texts through a Remote. It is safe for concurrent use.
type Client struct {
	remote  Remote
	cache   *Cache
	limiter ratelimit.Limiter
	cfg     Config
	logger  zerolog.Logger
}

// NewClient creates a client. A nil cache coalesces without memoizing; a nil limiter never blocks.
func NewClient(remote Remote, cache *Cache, limiter ratelimit.Limiter, cfg Config, logger zerolog.Logger) *Client {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultBatchSize
	}
	if cfg.MaxBatchTokens <= 0 {
		cfg.MaxBatchTokens = DefaultBatchTokens
	}
	if cfg.MaxItemTokens <= 0 {
		cfg.MaxItemTokens = DefaultMaxItemTokens
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Retry.ThrottleAttempts == 0 && cfg.Retry.TransientAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Counter == nil {
		cfg.Counter = tokenizer.Words{}
	}
	if cache == nil {
		cache = NewCache(nil, logger)
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited()
	}
	return &Client{
		remote:  remote,
		cache:   cache,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Model returns the model every vector from this client is tagged with.
func (c *Client) Model() domain.ModelID {
	return c.remote.Model()
}

// Cache returns the client's cache.
func (c *Client) Cache() *Cache {
	return c.cache
}

// pending is an owned cache key with the input positions it fills.
type pending struct {
	key     Key
	text    string
	tokens  int
	indexes []int
}

// Embed embeds texts, returning one vector per input position.
// Failures are isolated per batch: a throttled or failing batch does not discard the others.
// The returned error is Result.Err().
func (c *Client) Embed(ctx context.Context, texts []string) (*Result, error) {
	res := &Result{Vectors: make([]domain.EmbeddingVector, len(texts))}
	model := c.remote.Model()
	task := TaskFrom(ctx)

	byKey := make(map[Key]*pending)
	var keys []Key
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			res.fail(i, fmt.Errorf("%w: item %d is empty", domain.ErrInvalidInput, i))
			continue
		}
		tokens := c.cfg.Counter.Count(text)
		if tokens > c.cfg.MaxItemTokens {
			res.fail(i, fmt.Errorf("%w: item %d has %d tokens, limit is %d", domain.ErrInvalidInput, i, tokens, c.cfg.MaxItemTokens))
			continue
		}

		key := KeyFor(text, model)
		key.Task = task
		if p, ok := byKey[key]; ok {
			p.indexes = append(p.indexes, i)
			continue
		}
		byKey[key] = &pending{key: key, text: text, tokens: tokens, indexes: []int{i}}
		keys = append(keys, key)
	}

	acq := c.cache.Acquire(keys)
	for key, vec := range acq.Hits {
		res.fill(byKey[key], vec, model)
	}

	var owned []*pending
	for _, key := range acq.Owned {
		owned = append(owned, byKey[key])
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxInFlight)

	for _, batch := range c.batches(owned) {
		g.Go(func() error {
			vectors, attempts, err := c.embedBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()
			res.Attempts += attempts
			for j, p := range batch {
				if err != nil {
					c.cache.Resolve(p.key, nil, err)
					for _, i := range p.indexes {
						res.fail(i, err)
					}
					continue
				}
				c.cache.Resolve(p.key, vectors[j], nil)
				res.fill(p, vectors[j], model)
			}
			return nil
		})
	}
	_ = g.Wait()

	for key, w := range acq.Waiting {
		vec, err := c.await(ctx, byKey[key], w)
		if err != nil {
			for _, i := range byKey[key].indexes {
				res.fail(i, err)
			}
			continue
		}
		res.fill(byKey[key], vec, model)
	}

	sort.Slice(res.Failures, func(a, b int) bool {
		return res.Failures[a].Index < res.Failures[b].Index
	})
	return res, res.Err()
}

// await waits for a key another caller owns. When that caller's request is
// cancelled the key is acquired again, so one request's cancellation never
// fails another's.
func (c *Client) await(ctx context.Context, p *pending, w Waiter) ([]float32, error) {
	for {
		vec, err := w.Wait(ctx)
		if !ownerCancelled(ctx, err) {
			return vec, err
		}
		c.logger.Debug().Str("hash", p.key.Hash).Msg("shared embedding cancelled by its owner, acquiring again")

		acq := c.cache.Acquire([]Key{p.key})
		if vec, ok := acq.Hits[p.key]; ok {
			return vec, nil
		}
		if next, ok := acq.Waiting[p.key]; ok {
			w = next
			continue
		}
		vectors, _, err := c.embedBatch(ctx, []*pending{p})
		if err != nil {
			c.cache.Resolve(p.key, nil, err)
			return nil, err
		}
		c.cache.Resolve(p.key, vectors[0], nil)
		return vectors[0], nil
	}
}

// EmbedQuery embeds a search query for retrieval.
func (c *Client) EmbedQuery(ctx context.Context, text string) (domain.EmbeddingVector, error) {
	return c.EmbedOne(WithTask(ctx, TaskQuery), text)
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) (domain.EmbeddingVector, error) {
	res, err := c.Embed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingVector{}, res.Failures[0].Err
	}
	return res.Vectors[0], nil
}

// batches groups pending items by MaxBatchSize and MaxBatchTokens, preserving order.
func (c *Client) batches(items []*pending) [][]*pending {
	var out [][]*pending
	var cur []*pending
	tokens := 0
	for _, p := range items {
		if len(cur) > 0 && (len(cur) >= c.cfg.MaxBatchSize || tokens+p.tokens > c.cfg.MaxBatchTokens) {
			out = append(out, cur)
			cur = nil
			tokens = 0
		}
		cur = append(cur, p)
		tokens += p.tokens
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// embedBatch sends one batch under the retry policy, waiting on the limiter before every attempt.
func (c *Client) embedBatch(ctx context.Context, batch []*pending) ([][]float32, int, error) {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}

	var vectors [][]float32
	operation := func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := c.remote.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(out) != len(texts) {
			return fmt.Errorf("remote returned %d vectors for %d texts", len(out), len(texts))
		}
		vectors = out
		return nil
	}

	notify := func(err error, class retry.Class, attempt int, wait time.Duration) {
		if class == retry.Throttled {
			if p, ok := c.limiter.(Pauser); ok {
				p.Pause(wait)
			}
		}
		c.logger.Warn().Err(err).
			Str("class", class.String()).
			Int("attempt", attempt).
			Int("batch_size", len(texts)).
			Dur("wait", wait).
			Msg("embedding batch failed, retrying")
	}

	attempts, err := retry.Do(ctx, c.cfg.Retry, operation, notify)
	if err != nil {
		return nil, attempts, c.mapError(batch, err)
	}
	return vectors, attempts, nil
}

// mapError translates a retry outcome into the domain taxonomy.
func (c *Client) mapError(batch []*pending, err error) error {
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		return err
	}
	switch exhausted.Class {
	case retry.Throttled:
		return fmt.Errorf("%w: %w", domain.ErrRateLimitExceeded, err)
	case retry.Permanent:
		if errors.Is(err, domain.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: batch items %v rejected: %w", domain.ErrInvalidInput, batchIndexes(batch), err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
}

func batchIndexes(batch []*pending) []int {
	var out []int
	for _, p := range batch {
		out = append(out, p.indexes...)
	}
	sort.Ints(out)
	return out
}

func (r *Result) fail(i int, err error) {
	r.Failures = append(r.Failures, ItemFailure{Index: i, Err: err})
}

func (r *Result) fill(p *pending, vec []float32, model domain.ModelID) {
	for _, i := range p.indexes {
		r.Vectors[i] = domain.EmbeddingVector{ContentHash: p.key.Hash, Values: vec, Model: model}
	}
}
