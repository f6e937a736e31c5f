// Package cache holds read-through copies of backend-owned lists and lets
// writers invalidate them so every view re-reads the authoritative data.
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/marketplace-stream/pkg/metrics"
)

// ConversationsKey is the cache key of the conversation list.
const ConversationsKey = "conversations"

// MessagesKey returns the cache key of a conversation's message list.
func MessagesKey(conversationID string) string {
	return "messages:" + conversationID
}

// Invalidator marks cached keys stale.
type Invalidator interface {
	Invalidate(keys ...string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(keys ...string)

// Invalidate calls f.
func (f InvalidatorFunc) Invalidate(keys ...string) {
	f(keys...)
}

// Fanout forwards invalidations to every non-nil invalidator.
func Fanout(invalidators ...Invalidator) Invalidator {
	return InvalidatorFunc(func(keys ...string) {
		for _, inv := range invalidators {
			if inv != nil {
				inv.Invalidate(keys...)
			}
		}
	})
}

// UserKey scopes key to one user, for caches shared between callers.
func UserKey(userID, key string) string {
	return "user:" + userID + ":" + key
}

// ForUser returns an invalidator that scopes every key to userID before
// forwarding it to inv.
func ForUser(inv Invalidator, userID string) Invalidator {
	return InvalidatorFunc(func(keys ...string) {
		scoped := make([]string, len(keys))
		for i, key := range keys {
			scoped[i] = UserKey(userID, key)
		}
		inv.Invalidate(scoped...)
	})
}

type entry[T any] struct {
	value T
	stale bool
}

// Cache is a keyed read-through cache. Values stay fresh until invalidated.
type Cache[T any] struct {
	mu          sync.Mutex
	entries     map[string]*entry[T]
	generation  map[string]uint64
	group       singleflight.Group
	subscribers []func(key string)
}

// New creates an empty cache.
func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries:    make(map[string]*entry[T]),
		generation: make(map[string]uint64),
	}
}

// Get returns the cached value for key, calling load when the key is missing
// or stale. Concurrent loads of one key share a single call.
func (c *Cache[T]) Get(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.stale {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	gen := c.generation[key]
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return value, err
		}

		c.mu.Lock()
		// An invalidation that raced the load wins; keep the entry stale.
		c.entries[key] = &entry[T]{value: value, stale: c.generation[key] != gen}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Peek returns the cached value without loading, and whether it is fresh.
func (c *Cache[T]) Peek(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, !e.stale
}

// Invalidate marks keys stale and notifies subscribers.
func (c *Cache[T]) Invalidate(keys ...string) {
	c.mu.Lock()
	for _, key := range keys {
		c.generation[key]++
		if e, ok := c.entries[key]; ok {
			e.stale = true
		}
	}
	subscribers := append([]func(string){}, c.subscribers...)
	c.mu.Unlock()

	metrics.CacheInvalidationsTotal.WithLabelValues("local").Add(float64(len(keys)))

	for _, key := range keys {
		for _, fn := range subscribers {
			fn(key)
		}
	}
}

// Subscribe registers fn to be called with every invalidated key.
func (c *Cache[T]) Subscribe(fn func(key string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}
