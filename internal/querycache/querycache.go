// Package querycache caches fetched values under tuple keys and invalidates
// them by key prefix.
package querycache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies a cached query, e.g. Key{"pets"} or Key{"pets", int64(3)}.
// Parts are matched by type and value, so "3" and int64(3) differ.
type Key []any

// K builds a Key.
func K(parts ...any) Key { return Key(parts) }

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, "/")
}

// HasPrefix reports whether the leading parts of k equal prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if partID(k[i]) != partID(prefix[i]) {
			return false
		}
	}
	return true
}

// id is the map key of k.
func (k Key) id() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = partID(p)
	}
	return strings.Join(parts, "/")
}

func partID(p any) string { return fmt.Sprintf("%T:%v", p, p) }

type entry struct {
	key     Key
	value   any
	fetched time.Time
}

// Cache stores query results. The zero value is not usable; call New.
type Cache struct {
	staleTime time.Duration
	now       func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithStaleTime makes entries older than d refetch on the next Get. Zero
// keeps entries until they are invalidated.
func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) { c.staleTime = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{now: time.Now, entries: make(map[string]*entry)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached value of key, or calls fetch and stores its result.
// Concurrent callers of the same key share one fetch. Errors are not cached.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	if v, ok := c.lookup(key); ok {
		return v.(T), nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	// Callers arriving after an invalidation start a fresh flight.
	id := fmt.Sprintf("%s#%d", key.id(), gen)
	v, err, _ := c.group.Do(id, func() (any, error) {
		res, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, res, gen)
		return res, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Set stores value under key directly.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.id()] = &entry{key: key, value: value, fetched: c.now()}
}

// Invalidate drops every entry whose key starts with prefix and returns how
// many were dropped. A fetch already in flight does not repopulate them.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	n := 0
	for id, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// StaleTime returns the configured stale time; zero means entries live until
// invalidated.
func (c *Cache) StaleTime() time.Duration { return c.staleTime }

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.id()]
	if !ok {
		return nil, false
	}
	if c.staleTime > 0 && c.now().Sub(e.fetched) >= c.staleTime {
		delete(c.entries, key.id())
		return nil, false
	}
	return e.value, true
}

// store keeps value unless an invalidation happened after the fetch began.
func (c *Cache) store(key Key, value any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.entries[key.id()] = &entry{key: key, value: value, fetched: c.now()}
}
