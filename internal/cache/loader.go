package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Loader fronts an LRUCache with a load function. Concurrent misses for the
// same key share one load.
type Loader[K comparable, V any] struct {
	cache *LRUCache[K, V]
	group singleflight.Group
	// bumped on every invalidation so loads that raced a write are not stored
	generation atomic.Uint64
}

func NewLoader[K comparable, V any](cache *LRUCache[K, V]) *Loader[K, V] {
	return &Loader[K, V]{cache: cache}
}

// Get returns the cached value for key or loads it. hit reports whether
// the value came from the cache.
func (l *Loader[K, V]) Get(ctx context.Context, key K, load func(context.Context) (V, error)) (value V, hit bool, err error) {
	if v, ok := l.cache.Get(key); ok {
		return v, true, nil
	}

	gen := l.generation.Load()
	res, err, _ := l.group.Do(fmt.Sprint(key), func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		if l.generation.Load() == gen {
			l.cache.Set(key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

// Invalidate drops keys
func (l *Loader[K, V]) Invalidate(keys ...K) {
	l.generation.Add(1)
	l.cache.Delete(keys...)
	for _, key := range keys {
		l.group.Forget(fmt.Sprint(key))
	}
}
