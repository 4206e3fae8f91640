// Package cache stores tool call results keyed by a deterministic hash of
// the invocation, so repeated identical calls skip the server entirely.
// Backends cover a process-local map and a disk directory of JSON files;
// eviction strategies cover TTL, LRU, LFU, and manual.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Geralt1983/Thanos-sub001/pkg/config"
	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
	"github.com/Geralt1983/Thanos-sub001/pkg/observability"
)

// Strategy selects how entries are evicted at capacity.
type Strategy string

const (
	StrategyTTL    Strategy = "ttl"
	StrategyLRU    Strategy = "lru"
	StrategyLFU    Strategy = "lfu"
	StrategyManual Strategy = "manual"
)

// Config tunes one cache.
type Config struct {
	// Strategy picks the eviction policy. Defaults to TTL.
	Strategy Strategy

	// DefaultTTL applies when Set is given a zero TTL under the TTL
	// strategy.
	DefaultTTL time.Duration

	// MaxEntries caps the store; one entry is evicted per insert beyond
	// it.
	MaxEntries int

	// KeyPrefix namespaces generated keys.
	KeyPrefix string

	// Backend stores the entries. Defaults to a fresh memory backend.
	Backend Backend
}

// DefaultConfig mirrors the settings used when the application does not
// configure its own cache.
func DefaultConfig() Config {
	return Config{
		Strategy:   StrategyTTL,
		DefaultTTL: 5 * time.Minute,
		MaxEntries: 1000,
	}
}

// Stats counts cache activity.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Deletes     int64
	Evictions   int64
	Expirations int64
	Errors      int64
}

// HitRate returns hits over lookups, or zero with no lookups.
func (s Stats) HitRate() float64 {
	lookups := s.Hits + s.Misses
	if lookups == 0 {
		return 0
	}
	return float64(s.Hits) / float64(lookups)
}

// GenerateKey hashes (prefix, tool, server, arguments) into a stable hex
// key. Argument maps serialize with sorted keys, so insertion order never
// changes the result.
func GenerateKey(prefix, tool, server string, args map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", mcperrors.Wrap(err, mcperrors.KindInternal, "cache key arguments not serializable", false)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", prefix, tool, server, encoded)
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}

// Cache is a result store safe for concurrent use. Construct one at the
// composition root and share it explicitly.
type Cache struct {
	cfg     Config
	backend Backend
	logger  logging.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	byTool   map[string]map[string]struct{}
	byServer map[string]map[string]struct{}
	stats    Stats
}

// New builds a cache.
func New(cfg Config, logger logging.Logger, metrics *observability.Metrics) *Cache {
	def := DefaultConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	backend := cfg.Backend
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Cache{
		cfg:      cfg,
		backend:  backend,
		logger:   logging.OrNop(logger),
		metrics:  metrics,
		byTool:   make(map[string]map[string]struct{}),
		byServer: make(map[string]map[string]struct{}),
	}
}

// Get returns the cached value for an invocation, treating expired
// entries as absent and purging them on the spot.
func (c *Cache) Get(tool, server string, args map[string]interface{}) (json.RawMessage, bool) {
	key, err := GenerateKey(c.cfg.KeyPrefix, tool, server, args)
	if err != nil {
		c.recordError(err)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok, err := c.backend.Get(key)
	if err != nil {
		c.recordErrorLocked(err)
		return nil, false
	}
	if !ok {
		c.stats.Misses++
		c.metrics.RecordCacheMiss()
		return nil, false
	}
	if entry.expired(time.Now()) {
		c.removeLocked(entry)
		c.stats.Expirations++
		c.stats.Misses++
		c.metrics.RecordCacheExpiration()
		c.metrics.RecordCacheMiss()
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccess = time.Now()
	if err := c.backend.Set(entry); err != nil {
		c.recordErrorLocked(err)
	}
	c.stats.Hits++
	c.metrics.RecordCacheHit()
	return entry.Value, true
}

// Set stores a value for an invocation. A zero ttl takes the default
// under the TTL strategy; a negative ttl stores without expiry.
func (c *Cache) Set(tool, server string, args map[string]interface{}, value interface{}, ttl time.Duration) error {
	key, err := GenerateKey(c.cfg.KeyPrefix, tool, server, args)
	if err != nil {
		c.recordError(err)
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		wrapped := mcperrors.Wrap(err, mcperrors.KindInternal, "cache value not serializable", false)
		c.recordError(wrapped)
		return wrapped
	}

	now := time.Now()
	entry := &Entry{
		Key:       key,
		Value:     encoded,
		Tool:      tool,
		Server:    server,
		CreatedAt: now,
		Size:      len(encoded),
	}
	if ttl == 0 && c.cfg.Strategy == StrategyTTL {
		ttl = c.cfg.DefaultTTL
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists, err := c.backend.Get(key)
	if err != nil {
		c.recordErrorLocked(err)
	}
	if !exists {
		count, err := c.backend.Len()
		if err != nil {
			c.recordErrorLocked(err)
			return err
		}
		if count >= c.cfg.MaxEntries {
			c.evictOneLocked()
		}
	}

	if err := c.backend.Set(entry); err != nil {
		c.recordErrorLocked(err)
		return err
	}
	c.indexLocked(entry)
	c.stats.Sets++
	return nil
}

// Delete removes one invocation's entry.
func (c *Cache) Delete(tool, server string, args map[string]interface{}) error {
	key, err := GenerateKey(c.cfg.KeyPrefix, tool, server, args)
	if err != nil {
		c.recordError(err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok, err := c.backend.Get(key)
	if err != nil {
		c.recordErrorLocked(err)
		return err
	}
	if !ok {
		return nil
	}
	c.removeLocked(entry)
	c.stats.Deletes++
	return nil
}

// Clear drops every entry and both secondary indexes.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.backend.Clear(); err != nil {
		c.recordErrorLocked(err)
		return err
	}
	c.byTool = make(map[string]map[string]struct{})
	c.byServer = make(map[string]map[string]struct{})
	return nil
}

// ClearExpired purges all expired entries and returns how many were
// dropped.
func (c *Cache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.backend.Entries()
	if err != nil {
		c.recordErrorLocked(err)
		return 0
	}
	now := time.Now()
	purged := 0
	for _, e := range entries {
		if e.expired(now) {
			c.removeLocked(e)
			c.stats.Expirations++
			c.metrics.RecordCacheExpiration()
			purged++
		}
	}
	return purged
}

// InvalidateByTool removes every entry for the named tool, preferring the
// secondary index and falling back to a full scan when the index has no
// record (entries written by another process, for instance).
func (c *Cache) InvalidateByTool(tool string) int {
	return c.invalidate(c.byTool, tool, func(e *Entry) bool { return e.Tool == tool })
}

// InvalidateByServer removes every entry for the named server.
func (c *Cache) InvalidateByServer(server string) int {
	return c.invalidate(c.byServer, server, func(e *Entry) bool { return e.Server == server })
}

func (c *Cache) invalidate(index map[string]map[string]struct{}, name string, match func(*Entry) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	if keys, ok := index[name]; ok && len(keys) > 0 {
		for key := range keys {
			entry, ok, err := c.backend.Get(key)
			if err != nil {
				c.recordErrorLocked(err)
				continue
			}
			if ok {
				c.removeLocked(entry)
				removed++
			}
		}
		delete(index, name)
		c.stats.Deletes += int64(removed)
		return removed
	}

	entries, err := c.backend.Entries()
	if err != nil {
		c.recordErrorLocked(err)
		return 0
	}
	for _, e := range entries {
		if match(e) {
			c.removeLocked(e)
			removed++
		}
	}
	c.stats.Deletes += int64(removed)
	return removed
}

// GetOrCompute returns the cached value or computes, stores, and returns
// it. Atomic from this process's point of view only; concurrent misses in
// other processes may compute independently.
func (c *Cache) GetOrCompute(ctx context.Context, tool, server string, args map[string]interface{}, ttl time.Duration, compute func(ctx context.Context) (interface{}, error)) (json.RawMessage, error) {
	if value, ok := c.Get(tool, server, args); ok {
		return value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Set(tool, server, args, value, ttl); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, mcperrors.Wrap(err, mcperrors.KindInternal, "cache value not serializable", false)
	}
	return encoded, nil
}

// Stats returns a copy of the activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// evictOneLocked removes one entry per the configured strategy. Caller
// must hold the lock.
func (c *Cache) evictOneLocked() {
	entries, err := c.backend.Entries()
	if err != nil {
		c.recordErrorLocked(err)
		return
	}
	if len(entries) == 0 {
		return
	}

	victim := entries[0]
	for _, e := range entries[1:] {
		switch c.cfg.Strategy {
		case StrategyLRU:
			if lastTouched(e).Before(lastTouched(victim)) {
				victim = e
			}
		case StrategyLFU:
			if e.AccessCount < victim.AccessCount {
				victim = e
			}
		default:
			if e.CreatedAt.Before(victim.CreatedAt) {
				victim = e
			}
		}
	}

	c.removeLocked(victim)
	c.stats.Evictions++
	c.metrics.RecordCacheEviction()
	c.logger.Debug("evicted cache entry",
		logging.String("tool", victim.Tool),
		logging.String("server", victim.Server),
		logging.String("strategy", string(c.cfg.Strategy)),
	)
}

// lastTouched is the LRU ordering key: last access, or creation for
// entries never read.
func lastTouched(e *Entry) time.Time {
	if e.LastAccess.IsZero() {
		return e.CreatedAt
	}
	return e.LastAccess
}

// removeLocked deletes an entry and unindexes it. Caller must hold the
// lock.
func (c *Cache) removeLocked(e *Entry) {
	if err := c.backend.Delete(e.Key); err != nil {
		c.recordErrorLocked(err)
	}
	if keys, ok := c.byTool[e.Tool]; ok {
		delete(keys, e.Key)
	}
	if keys, ok := c.byServer[e.Server]; ok {
		delete(keys, e.Key)
	}
}

// indexLocked records an entry in both secondary indexes. Caller must
// hold the lock.
func (c *Cache) indexLocked(e *Entry) {
	if c.byTool[e.Tool] == nil {
		c.byTool[e.Tool] = make(map[string]struct{})
	}
	c.byTool[e.Tool][e.Key] = struct{}{}
	if c.byServer[e.Server] == nil {
		c.byServer[e.Server] = make(map[string]struct{})
	}
	c.byServer[e.Server][e.Key] = struct{}{}
}

func (c *Cache) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordErrorLocked(err)
}

func (c *Cache) recordErrorLocked(err error) {
	c.stats.Errors++
	c.logger.WithError(err).Warn("cache operation failed")
}

// PolicyFor derives the caching decision for one tool call from a server
// config: whether to cache at all and with what TTL.
func PolicyFor(cfg *config.ServerConfig, tool string, def time.Duration) (ttl time.Duration, cacheable bool) {
	if cfg == nil {
		return def, true
	}
	if cfg.CacheDisabledFor(tool) {
		return 0, false
	}
	if cfg.CacheTTL > 0 {
		return cfg.CacheTTL.Std(), true
	}
	return def, true
}
