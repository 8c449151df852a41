package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL applies to key classes without an explicit override.
const DefaultTTL = 5 * time.Minute

// Config holds TTLs for the config cache. ClassTTL is keyed by the key class,
// the part of a key before the first ':' ("admin_emails", "role_permissions", ...).
type Config struct {
	DefaultTTL time.Duration
	ClassTTL   map[string]time.Duration
}

// Loader reads the authoritative value for a key.
type Loader func(ctx context.Context) (any, error)

// Observer receives hit/miss notifications.
type Observer interface {
	CacheHit(class string)
	CacheMiss(class string)
}

type entry struct {
	value     any
	expiresAt time.Time
}

// ConfigCache is an in-process TTL cache in front of configuration and permission lookups.
// It is never a source of truth; a fresh instance starts empty.
type ConfigCache struct {
	mu          sync.Mutex
	entries     map[string]entry
	generations map[string]uint64
	loading     map[string]int
	epoch       uint64
	group       singleflight.Group
	cfg         Config
	now         func() time.Time
	observer    Observer
}

// NewConfigCache constructs an empty cache.
func NewConfigCache(cfg Config) *ConfigCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	return &ConfigCache{
		entries:     make(map[string]entry),
		generations: make(map[string]uint64),
		loading:     make(map[string]int),
		cfg:         cfg,
		now:         time.Now,
	}
}

// WithClock overrides the time source.
func (c *ConfigCache) WithClock(now func() time.Time) *ConfigCache {
	c.now = now
	return c
}

// WithObserver installs a hit/miss observer.
func (c *ConfigCache) WithObserver(o Observer) *ConfigCache {
	c.observer = o
	return c
}

// Get returns the cached value for key or invokes loader and caches its result.
// Loader errors are returned and nothing is cached.
func (c *ConfigCache) Get(ctx context.Context, key string, loader Loader) (any, error) {
	if loader == nil {
		return nil, fmt.Errorf("cache: loader required for %q", key)
	}
	class := KeyClass(key)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		c.notify(class, true)
		return e.value, nil
	}
	gen, epoch := c.generations[key], c.epoch
	c.loading[key]++
	c.mu.Unlock()
	c.notify(class, false)

	// Concurrent misses on the same generation share one load. A load started before
	// an invalidation has a different flight key and cannot satisfy later callers.
	flight := key + "#" + strconv.FormatUint(epoch, 10) + "." + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(flight, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generations[key] == gen && c.epoch == epoch {
			c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttlFor(class))}
		}
		c.mu.Unlock()
		return value, nil
	})

	c.mu.Lock()
	if c.loading[key]--; c.loading[key] <= 0 {
		delete(c.loading, key)
		delete(c.generations, key)
	}
	c.mu.Unlock()
	return v, err
}

// Invalidate removes key immediately. Write paths call it synchronously after the store write.
// A generation is only tracked while a load for key is in flight.
func (c *ConfigCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	if c.loading[key] > 0 {
		c.generations[key]++
	}
	c.mu.Unlock()
}

// InvalidatePrefix removes every key starting with prefix.
func (c *ConfigCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.epoch++
	c.mu.Unlock()
}

// Clear drops every entry. Reserved for privileged maintenance.
func (c *ConfigCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.epoch++
	c.mu.Unlock()
}

// Len reports the number of live and expired-but-unevicted entries.
func (c *ConfigCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ConfigCache) ttlFor(class string) time.Duration {
	if ttl, ok := c.cfg.ClassTTL[class]; ok && ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}

func (c *ConfigCache) notify(class string, hit bool) {
	if c.observer == nil {
		return
	}
	if hit {
		c.observer.CacheHit(class)
		return
	}
	c.observer.CacheMiss(class)
}

// KeyClass returns the portion of key before the first ':'.
func KeyClass(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// Fetch is a typed wrapper around ConfigCache.Get.
func Fetch[T any](ctx context.Context, c *ConfigCache, key string, loader func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil {
		return loader(ctx)
	}
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: unexpected type %T for %q", v, key)
	}
	return typed, nil
}
