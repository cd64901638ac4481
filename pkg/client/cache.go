package client

import (
	"context"
	"sync"
	"time"

	"github.com/rmax-ai/psyflow/pkg/store"
)

// Cache holds remote copies of experiment records. Implementations treat
// failures as misses. The Redis-backed store/redis.ExperimentCache
// satisfies it.
type Cache interface {
	Get(ctx context.Context, id string) (*store.Experiment, bool)
	Set(ctx context.Context, exp *store.Experiment)
	Invalidate(ctx context.Context, id string)
}

type cacheEntry struct {
	exp     store.Experiment
	expires time.Time
}

// MemoryCache is an in-process Cache with a fixed TTL.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl. A zero ttl
// keeps entries until they are invalidated.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items: make(map[string]cacheEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns a copy of the cached record.
func (c *MemoryCache) Get(_ context.Context, id string) (*store.Experiment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[id]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.items, id)
		return nil, false
	}
	exp := e.exp
	exp.PsyexpData = append([]byte(nil), e.exp.PsyexpData...)
	return &exp, true
}

// Set stores a copy of exp.
func (c *MemoryCache) Set(_ context.Context, exp *store.Experiment) {
	if exp == nil || exp.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{exp: *exp}
	e.exp.PsyexpData = append([]byte(nil), exp.PsyexpData...)
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.items[exp.ID] = e
}

// Invalidate drops the cached record for id.
func (c *MemoryCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

// Len returns the number of cached records, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CachedReader serves experiment reads through a Cache. Writes go straight
// to the client; callers invalidate after a successful save or compile.
type CachedReader struct {
	client *Client
	cache  Cache
}

// NewCachedReader wraps c with cache.
func NewCachedReader(c *Client, cache Cache) *CachedReader {
	return &CachedReader{client: c, cache: cache}
}

// ReadExperiment returns the cached record or fetches and caches it.
func (r *CachedReader) ReadExperiment(ctx context.Context, id string) (*store.Experiment, error) {
	if exp, ok := r.cache.Get(ctx, id); ok {
		return exp, nil
	}
	exp, err := r.client.ReadExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, exp)
	return exp, nil
}

// UpdateExperiment forwards to the client.
func (r *CachedReader) UpdateExperiment(ctx context.Context, id string, u store.ExperimentUpdate) (*store.Experiment, error) {
	return r.client.UpdateExperiment(ctx, id, u)
}

// CompileExperiment forwards to the client.
func (r *CachedReader) CompileExperiment(ctx context.Context, id string) (*store.Experiment, error) {
	return r.client.CompileExperiment(ctx, id)
}

// Invalidate drops id from the cache.
func (r *CachedReader) Invalidate(ctx context.Context, id string) {
	r.cache.Invalidate(ctx, id)
}
