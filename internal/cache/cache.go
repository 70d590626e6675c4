// Package cache keeps the last known good response per logical resource so
// reads can be served while the backend is unreachable.
package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/config"
	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/store"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/telemetry"
)

// Lookup results.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultStale = "stale"
)

// DefaultKeyPrefix namespaces cache entries inside the shared store.
const DefaultKeyPrefix = "cache:"

// Stats counts cache activity since construction.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Stale         int64 `json:"stale"`
	Writes        int64 `json:"writes"`
	WriteFailures int64 `json:"write_failures"`
}

// ResponseCache stores JSON responses keyed by resource.
type ResponseCache struct {
	store   store.Store
	prefix  string
	now     func() time.Time
	metrics *telemetry.Metrics

	hits, misses, stale, writes, writeFailures atomic.Int64
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithClock overrides the time source used for StoredAt and freshness.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// WithMetrics records lookups and writes on metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *ResponseCache) { c.metrics = m }
}

// WithKeyPrefix overrides the store key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(c *ResponseCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// New creates a cache over st.
func New(st store.Store, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		store:  st,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a cache using the cache section of cfg.
func NewFromConfig(st store.Store, cfg config.Config, opts ...Option) *ResponseCache {
	return New(st, append([]Option{WithKeyPrefix(cfg.Cache.KeyPrefix)}, opts...)...)
}

func (c *ResponseCache) storeKey(key string) string {
	return c.prefix + key
}

// Put overwrites the entry for key. Store failures are logged, not returned.
func (c *ResponseCache) Put(ctx context.Context, key string, data models.Value) {
	entry := models.CacheEntry{Key: key, Data: data, StoredAt: c.now().UTC()}
	encoded, err := models.EncodeCacheEntry(entry)
	if err == nil {
		err = c.store.SaveString(ctx, c.storeKey(key), encoded)
	}
	if err != nil {
		c.writeFailures.Add(1)
		c.metrics.CacheWrite(ctx, false)
		logging.ErrorWithCode("Failed to cache response", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"key": key,
		})
		return
	}
	c.writes.Add(1)
	c.metrics.CacheWrite(ctx, true)
	logging.Debug("Cached response", map[string]interface{}{"key": key})
}

// Get returns the cached data for key regardless of age.
func (c *ResponseCache) Get(ctx context.Context, key string) (models.Value, bool) {
	entry, ok := c.load(ctx, key)
	if !ok {
		c.record(ctx, ResultMiss)
		return models.Value{}, false
	}
	c.record(ctx, ResultHit)
	return entry.Data, true
}

// GetFresh returns the cached data for key if it is no older than maxAge.
// Absent, stale and unreadable entries all report false.
func (c *ResponseCache) GetFresh(ctx context.Context, key string, maxAge time.Duration) (models.Value, bool) {
	entry, ok := c.load(ctx, key)
	if !ok {
		c.record(ctx, ResultMiss)
		return models.Value{}, false
	}
	if !entry.FreshAt(c.now(), maxAge) {
		c.record(ctx, ResultStale)
		return models.Value{}, false
	}
	c.record(ctx, ResultHit)
	return entry.Data, true
}

func (c *ResponseCache) load(ctx context.Context, key string) (models.CacheEntry, bool) {
	raw, ok, err := c.store.LoadString(ctx, c.storeKey(key))
	if err != nil {
		logging.Warn("Cache read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return models.CacheEntry{}, false
	}
	if !ok {
		return models.CacheEntry{}, false
	}
	entry, err := models.DecodeCacheEntry(raw)
	if err != nil {
		logging.Warn("Ignoring corrupt cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return models.CacheEntry{}, false
	}
	return entry, true
}

func (c *ResponseCache) record(ctx context.Context, result string) {
	switch result {
	case ResultHit:
		c.hits.Add(1)
	case ResultStale:
		c.stale.Add(1)
	default:
		c.misses.Add(1)
	}
	c.metrics.CacheLookup(ctx, result)
}

// Clear removes every entry whose key starts with prefix. An empty prefix
// clears the whole cache. It returns the number of entries removed.
func (c *ResponseCache) Clear(ctx context.Context, prefix string) (int, error) {
	keys, err := c.store.ListKeys(ctx)
	if err != nil {
		return 0, err
	}
	match := c.storeKey(prefix)
	removed := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, match) {
			continue
		}
		if err := c.store.Remove(ctx, k); err != nil {
			return removed, err
		}
		removed++
	}
	logging.Info("Cache cleared", map[string]interface{}{
		"prefix":  prefix,
		"removed": removed,
	})
	return removed, nil
}

// Stats returns a snapshot of the counters.
func (c *ResponseCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stale:         c.stale.Load(),
		Writes:        c.writes.Load(),
		WriteFailures: c.writeFailures.Load(),
	}
}
