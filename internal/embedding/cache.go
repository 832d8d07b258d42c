package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/bull/docs-rag/internal/domain"
)

// Key identifies a cached embedding: the content hash of the normalized text,
// the model that embedded it and the task it was embedded for.
type Key struct {
	Hash  string
	Model string
	Task  Task
}

// KeyFor derives the cache key for text embedded by model.
func KeyFor(text string, model domain.ModelID) Key {
	return Key{Hash: domain.ContentHash(text), Model: model.String()}
}

// Store holds computed embeddings. Implementations must be safe for concurrent use.
type Store interface {
	Get(key Key) ([]float32, bool, error)
	Put(key Key, vec []float32) error
	Len() int
}

// LRUStore is an in-process Store bounded by entry count, optionally expiring entries after a TTL.
type LRUStore struct {
	plain   *lru.Cache[Key, []float32]
	expires *expirable.LRU[Key, []float32]
}

// NewLRUStore creates a store holding at most size entries. A positive ttl expires entries.
func NewLRUStore(size int, ttl time.Duration) (*LRUStore, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: cache size must be positive, got %d", domain.ErrInvalidInput, size)
	}
	if ttl > 0 {
		return &LRUStore{expires: expirable.NewLRU[Key, []float32](size, nil, ttl)}, nil
	}
	c, err := lru.New[Key, []float32](size)
	if err != nil {
		return nil, err
	}
	return &LRUStore{plain: c}, nil
}

// Get implements Store.
func (s *LRUStore) Get(key Key) ([]float32, bool, error) {
	if s.expires != nil {
		v, ok := s.expires.Get(key)
		return v, ok, nil
	}
	v, ok := s.plain.Get(key)
	return v, ok, nil
}

// Put implements Store.
func (s *LRUStore) Put(key Key, vec []float32) error {
	if s.expires != nil {
		s.expires.Add(key, vec)
		return nil
	}
	s.plain.Add(key, vec)
	return nil
}

// Len implements Store.
func (s *LRUStore) Len() int {
	if s.expires != nil {
		return s.expires.Len()
	}
	return s.plain.Len()
}

var errNoVector = errors.New("embedding computation produced no vector")

// call is one in-flight computation that any number of waiters may share.
type call struct {
	done chan struct{}
	vec  []float32
	err  error
}

// Waiter is a handle on a computation owned by another caller.
type Waiter struct {
	c *call
}

// Wait blocks until the owner resolves the computation or ctx is done.
func (w Waiter) Wait(ctx context.Context) ([]float32, error) {
	select {
	case <-w.c.done:
		return w.c.vec, w.c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Acquisition splits a set of keys by who provides their vector.
type Acquisition struct {
	Hits    map[Key][]float32 // Already stored
	Owned   []Key             // The caller must compute these and Resolve each one
	Waiting map[Key]Waiter    // Another caller is computing these
}

// Cache memoizes embeddings and coalesces concurrent computations of the same key,
// so at most one remote computation runs per key at any time.
// Storage is best-effort: store failures are logged and treated as misses.
type Cache struct {
	store  Store
	logger zerolog.Logger

	mu       sync.Mutex
	inflight map[Key]*call
}

// NewCache creates a cache over store. A nil store disables memoization but keeps coalescing.
func NewCache(store Store, logger zerolog.Logger) *Cache {
	return &Cache{
		store:    store,
		logger:   logger,
		inflight: make(map[Key]*call),
	}
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	if c.store == nil {
		return 0
	}
	return c.store.Len()
}

// Acquire classifies keys as hits, owned or waiting. Duplicate keys are reported once.
// Every owned key must later be passed to Resolve, even on failure.
func (c *Cache) Acquire(keys []Key) Acquisition {
	acq := Acquisition{
		Hits:    make(map[Key][]float32),
		Waiting: make(map[Key]Waiter),
	}
	seen := make(map[Key]bool, len(keys))

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true

		if vec, ok := c.lookup(key); ok {
			acq.Hits[key] = vec
			continue
		}
		if pending, ok := c.inflight[key]; ok {
			acq.Waiting[key] = Waiter{c: pending}
			continue
		}
		c.inflight[key] = &call{done: make(chan struct{})}
		acq.Owned = append(acq.Owned, key)
	}
	return acq
}

// Resolve completes an owned computation, storing vec on success and waking all waiters.
// Failures are shared with current waiters but not stored.
func (c *Cache) Resolve(key Key, vec []float32, err error) {
	if err == nil && vec == nil {
		err = errNoVector
	}

	c.mu.Lock()
	pending, ok := c.inflight[key]
	delete(c.inflight, key)
	if ok && err == nil && c.store != nil {
		if perr := c.store.Put(key, vec); perr != nil {
			c.logger.Warn().Err(perr).Str("hash", key.Hash).Msg("embedding cache write failed")
		}
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	pending.vec = vec
	pending.err = err
	close(pending.done)
}

// GetOrCompute returns the cached embedding of text or computes it exactly once,
// sharing the outcome with every concurrent caller asking for the same key.
func (c *Cache) GetOrCompute(ctx context.Context, text string, model domain.ModelID, compute func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	key := KeyFor(text, model)
	for {
		acq := c.Acquire([]Key{key})

		if vec, ok := acq.Hits[key]; ok {
			return vec, nil
		}
		if w, ok := acq.Waiting[key]; ok {
			vec, err := w.Wait(ctx)
			if ownerCancelled(ctx, err) {
				continue
			}
			return vec, err
		}

		return c.computeOwned(ctx, key, compute)
	}
}

func (c *Cache) computeOwned(ctx context.Context, key Key, compute func(ctx context.Context) ([]float32, error)) (vec []float32, err error) {
	defer func() {
		c.Resolve(key, vec, err)
	}()
	return compute(ctx)
}

// ownerCancelled reports whether a shared computation ended with its owner's
// context error while the waiter's own ctx is still live. The waiter should
// then acquire the key again.
func ownerCancelled(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// lookup reads the store; callers hold c.mu.
func (c *Cache) lookup(key Key) ([]float32, bool) {
	if c.store == nil {
		return nil, false
	}
	vec, ok, err := c.store.Get(key)
	if err != nil {
		c.logger.Warn().Err(err).Str("hash", key.Hash).Msg("embedding cache read failed")
		return nil, false
	}
	return vec, ok
}
