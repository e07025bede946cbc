package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultLoadTimeout bounds a single load. Loads are detached from the
// caller's cancellation because other callers may be waiting on them.
const DefaultLoadTimeout = 5 * time.Second

type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

// LoadingCache is a size- and TTL-bounded cache that fills misses through a
// loader. Concurrent misses for the same key share one load. A load that
// was running when its key was invalidated is returned to its callers but
// not stored.
type LoadingCache[V any] struct {
	entries     *lru.LRU[string, V]
	group       singleflight.Group
	load        LoadFunc[V]
	loadTimeout time.Duration

	mu      sync.Mutex
	epoch   uint64
	keyGens map[string]uint64
}

func NewLoadingCache[V any](size int, ttl time.Duration, load LoadFunc[V]) *LoadingCache[V] {
	if size <= 0 {
		size = 64
	}
	return &LoadingCache[V]{
		entries:     lru.NewLRU[string, V](size, nil, ttl),
		load:        load,
		loadTimeout: DefaultLoadTimeout,
		keyGens:     make(map[string]uint64),
	}
}

func (c *LoadingCache[V]) Get(ctx context.Context, key string) (V, error) {
	if v, ok := c.entries.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		gen := c.generation(key)

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		v, err := c.load(loadCtx, key)
		if err != nil {
			return v, err
		}

		c.mu.Lock()
		if c.generationLocked(key) == gen {
			c.entries.Add(key, v)
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Invalidate drops the given keys, or everything when none are given.
func (c *LoadingCache[V]) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(keys) == 0 {
		c.epoch++
		c.keyGens = make(map[string]uint64)
		c.entries.Purge()
		return
	}
	for _, k := range keys {
		c.keyGens[k]++
		c.entries.Remove(k)
		c.group.Forget(k)
	}
}

func (c *LoadingCache[V]) Len() int {
	return c.entries.Len()
}

func (c *LoadingCache[V]) generation(key string) [2]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generationLocked(key)
}

func (c *LoadingCache[V]) generationLocked(key string) [2]uint64 {
	return [2]uint64{c.epoch, c.keyGens[key]}
}
