package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
)

const (
	sessionKeyPrefix = "live_session:"

	layerMemory = "memory"
	layerRedis  = "redis"
)

var _ domain.SessionCache = (*SessionCache)(nil)

// SessionCache keeps the last known session per event in a per-process
// memory layer backed by Redis, so sibling processes share one view.
type SessionCache struct {
	rdb     goredis.Cmdable
	mem     *memoryCache
	ttl     time.Duration
	metrics *metrics.CacheMetrics
}

// NewSessionCache creates the cache. ttl bounds both layers. m may be nil.
func NewSessionCache(rdb goredis.Cmdable, ttl time.Duration, m *metrics.CacheMetrics) *SessionCache {
	return &SessionCache{
		rdb:     rdb,
		mem:     newMemoryCache(ttl),
		ttl:     ttl,
		metrics: m,
	}
}

// StartEvictionTimer runs a periodic goroutine that evicts expired in-memory entries.
// Returns a stop function that should be deferred.
func (c *SessionCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if evicted := c.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired session cache entries", "count", evicted, "remaining", c.mem.size())
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (c *SessionCache) Get(ctx context.Context, eventID string) (*domain.Session, bool) {
	if session, ok := c.mem.get(eventID); ok {
		c.hit(layerMemory)
		return session.Clone(), true
	}
	c.miss(layerMemory)

	session, ok := c.getCached(ctx, eventID)
	if !ok {
		c.miss(layerRedis)
		return nil, false
	}
	c.hit(layerRedis)

	c.mem.set(eventID, session)
	return session.Clone(), true
}

func (c *SessionCache) Set(ctx context.Context, session *domain.Session) error {
	if session == nil || session.EventID == "" {
		return errors.New("session cache: session without event id")
	}

	stored := session.Clone()
	c.mem.set(stored.EventID, stored)

	encoded, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session for cache: %w", err)
	}
	if err := c.rdb.Set(ctx, sessionKey(stored.EventID), encoded, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session cache: %w", err)
	}
	return nil
}

// Invalidate evicts the session from both layers and tells sibling processes
// to drop their memory layer.
func (c *SessionCache) Invalidate(ctx context.Context, eventID string) error {
	c.mem.invalidate(eventID)

	if err := c.rdb.Del(ctx, sessionKey(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session cache: %w", err)
	}
	return PublishSessionInvalidation(ctx, c.rdb, eventID)
}

// dropLocal evicts only the memory layer.
func (c *SessionCache) dropLocal(eventID string) {
	c.mem.invalidate(eventID)
}

func (c *SessionCache) getCached(ctx context.Context, eventID string) (*domain.Session, bool) {
	data, err := c.rdb.Get(ctx, sessionKey(eventID)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.WarnContext(ctx, "Redis session cache GET failed", "event_id", eventID, "error", err)
		}
		return nil, false
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		slog.WarnContext(ctx, "Failed to unmarshal cached session", "event_id", eventID, "error", err)
		return nil, false
	}
	if session.ID == "" {
		return nil, false
	}
	return &session, true
}

func (c *SessionCache) hit(layer string) {
	if c.metrics != nil {
		c.metrics.Hits.WithLabelValues(layer).Inc()
	}
}

func (c *SessionCache) miss(layer string) {
	if c.metrics != nil {
		c.metrics.Misses.WithLabelValues(layer).Inc()
	}
}

func sessionKey(eventID string) string {
	return sessionKeyPrefix + eventID
}

// memoryCache is an in-memory L1 cache with TTL-based expiry.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryCacheEntry
	ttl     time.Duration
}

type memoryCacheEntry struct {
	session   *domain.Session
	expiresAt time.Time
}

func newMemoryCache(ttl time.Duration) *memoryCache {
	return &memoryCache{
		entries: make(map[string]*memoryCacheEntry),
		ttl:     ttl,
	}
}

func (c *memoryCache) get(eventID string) (*domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[eventID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.session, true
}

func (c *memoryCache) set(eventID string, session *domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[eventID] = &memoryCacheEntry{
		session:   session,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *memoryCache) invalidate(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, eventID)
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	evicted := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
