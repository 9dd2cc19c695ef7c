package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in any layer
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

const (
	layerMemory = "memory"
	layerRedis  = "redis"
)

// Manager handles response caching with a memory layer in front of an
// optional Redis layer.
type Manager struct {
	memory    *gocache.Cache
	memoryTTL time.Duration
	redis     *redis.Client
}

// NewManager creates a cache manager. redisClient may be nil, in which case
// only the memory layer is used. A memoryTTL of zero disables the memory
// layer's own expiry cap; entries still expire with their Expires time.
func NewManager(redisClient *redis.Client, memoryTTL time.Duration) *Manager {
	cleanup := memoryTTL * 2
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &Manager{
		memory:    gocache.New(gocache.NoExpiration, cleanup),
		memoryTTL: memoryTTL,
		redis:     redisClient,
	}
}

// HasRedis reports whether the Redis layer is configured.
func (m *Manager) HasRedis() bool {
	return m.redis != nil
}

// Get retrieves a cache entry by key, checking memory before Redis.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	cacheKey := key.String()

	if value, ok := m.memory.Get(cacheKey); ok {
		if entry, ok := value.(*CacheEntry); ok && !entry.IsExpired() {
			CacheHits.WithLabelValues(layerMemory).Inc()
			return entry, nil
		}
		m.memory.Delete(cacheKey)
	}

	if m.redis == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(layerRedis).Inc()

	// Promote into the memory layer
	m.setMemory(cacheKey, &entry)

	return &entry, nil
}

// Set stores an entry in every configured layer with a TTL taken from the
// entry's Expires field. Expired entries are not stored.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	cacheKey := key.String()
	m.setMemory(cacheKey, entry)

	if m.redis == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, cacheKey, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.WithLabelValues(layerRedis).Add(float64(len(data)))

	return nil
}

func (m *Manager) setMemory(cacheKey string, entry *CacheEntry) {
	ttl := entry.TTL()
	if m.memoryTTL > 0 && m.memoryTTL < ttl {
		ttl = m.memoryTTL
	}
	if ttl <= 0 {
		return
	}
	m.memory.Set(cacheKey, entry, ttl)
	CacheSize.WithLabelValues(layerMemory).Add(float64(entry.Size()))
}

// Delete removes an entry from every layer.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	cacheKey := key.String()
	m.memory.Delete(cacheKey)

	if m.redis == nil {
		return nil
	}

	if err := m.redis.Del(ctx, cacheKey).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// UpdateTTL updates the expiry of an existing entry.
// This is used when a 304 Not Modified response carries a new Expires header.
func (m *Manager) UpdateTTL(ctx context.Context, key CacheKey, newExpires time.Time) error {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return err
	}

	updated := *entry
	updated.Expires = newExpires

	return m.Set(ctx, key, &updated)
}

// Flush clears the memory layer. The Redis layer is left to its TTLs.
func (m *Manager) Flush() {
	m.memory.Flush()
}

// ItemCount returns the number of entries in the memory layer.
func (m *Manager) ItemCount() int {
	return m.memory.ItemCount()
}
