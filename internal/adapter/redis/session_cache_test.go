package redis

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
)

func testSession(eventID string) *domain.Session {
	return &domain.Session{
		ID:        "session-" + eventID,
		EventID:   eventID,
		EntityID:  "entity-1",
		Active:    true,
		RoomName:  "room-" + eventID,
		StartedAt: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
	}
}

// --- In-memory cache unit tests (no Redis needed) ---

func TestMemoryCache_Miss(t *testing.T) {
	cache := newMemoryCache(10 * time.Second)

	_, hit := cache.get("event-miss")
	assert.False(t, hit)
}

func TestMemoryCache_Hit(t *testing.T) {
	cache := newMemoryCache(10 * time.Second)
	cache.set("event-1", testSession("event-1"))

	session, hit := cache.get("event-1")
	require.True(t, hit)
	assert.Equal(t, "session-event-1", session.ID)
	assert.Equal(t, "room-event-1", session.RoomName)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cache := newMemoryCache(10 * time.Second)
		cache.set("event-1", testSession("event-1"))

		time.Sleep(9 * time.Second)
		_, hit := cache.get("event-1")
		assert.True(t, hit, "entry should still be valid before TTL")

		time.Sleep(2 * time.Second)
		_, hit = cache.get("event-1")
		assert.False(t, hit, "entry should expire after TTL")
	})
}

func TestMemoryCache_EvictExpired(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cache := newMemoryCache(5 * time.Second)
		cache.set("event-1", testSession("event-1"))

		time.Sleep(3 * time.Second)
		cache.set("event-2", testSession("event-2"))

		time.Sleep(3 * time.Second)
		evicted := cache.evictExpired()
		assert.Equal(t, 1, evicted)
		assert.Equal(t, 1, cache.size())

		_, hit := cache.get("event-2")
		assert.True(t, hit)
	})
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := newMemoryCache(10 * time.Second)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			eventID := "event-" + string(rune('a'+i%5))
			cache.set(eventID, testSession(eventID))
			cache.get(eventID)
			if i%7 == 0 {
				cache.invalidate(eventID)
			}
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.size(), 5)
}

func TestSessionCache_GetFromMemoryLayer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCacheMetrics(reg)
	cache := NewSessionCache(goredis.NewClient(&goredis.Options{}), 10*time.Second, m)

	cache.mem.set("event-1", testSession("event-1"))

	session, ok := cache.Get(context.Background(), "event-1")
	require.True(t, ok)
	assert.Equal(t, "session-event-1", session.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hits.WithLabelValues(layerMemory)))
}

func TestSessionCache_GetReturnsCopy(t *testing.T) {
	cache := NewSessionCache(goredis.NewClient(&goredis.Options{}), 10*time.Second, nil)
	cache.mem.set("event-1", testSession("event-1"))

	first, ok := cache.Get(context.Background(), "event-1")
	require.True(t, ok)
	first.Active = false

	second, ok := cache.Get(context.Background(), "event-1")
	require.True(t, ok)
	assert.True(t, second.Active, "mutating a returned session must not touch the cache")
}

func TestSessionCache_SetRejectsMissingEventID(t *testing.T) {
	cache := NewSessionCache(goredis.NewClient(&goredis.Options{}), 10*time.Second, nil)

	assert.Error(t, cache.Set(context.Background(), nil))
	assert.Error(t, cache.Set(context.Background(), &domain.Session{ID: "s"}))
}

func TestInvalidationSubscriber_HandleInvalidation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCacheMetrics(reg)
	client := goredis.NewClient(&goredis.Options{})
	cache := NewSessionCache(client, 10*time.Second, m)
	sub := NewInvalidationSubscriber(client, cache, m)

	cache.mem.set("event-1", testSession("event-1"))

	sub.handleInvalidation(context.Background(), "event-1")

	_, hit := cache.mem.get("event-1")
	assert.False(t, hit)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invalidations))
}

func TestInvalidationSubscriber_EmptyPayload(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{})
	cache := NewSessionCache(client, 10*time.Second, nil)
	sub := NewInvalidationSubscriber(client, cache, nil)

	cache.mem.set("event-1", testSession("event-1"))

	sub.handleInvalidation(context.Background(), "")

	_, hit := cache.mem.get("event-1")
	assert.True(t, hit, "empty payload must be ignored")
}

// --- Integration tests (require Redis via testcontainers) ---

func TestSessionCache_SetThenGetAcrossInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestClient(t)

	reg := prometheus.NewRegistry()
	m := metrics.NewCacheMetrics(reg)
	writer := NewSessionCache(client, time.Minute, nil)
	reader := NewSessionCache(client, time.Minute, m)

	require.NoError(t, writer.Set(ctx, testSession("event-1")))

	session, ok := reader.Get(ctx, "event-1")
	require.True(t, ok)
	assert.Equal(t, "session-event-1", session.ID)
	assert.True(t, session.StartedAt.Equal(testSession("event-1").StartedAt))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hits.WithLabelValues(layerRedis)))

	// Second read is served from memory.
	_, ok = reader.Get(ctx, "event-1")
	require.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hits.WithLabelValues(layerMemory)))
}

func TestSessionCache_SetAppliesTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestClient(t)
	cache := NewSessionCache(client, 30*time.Second, nil)

	require.NoError(t, cache.Set(ctx, testSession("event-1")))

	ttl, err := client.TTL(ctx, sessionKey("event-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 30*time.Second)
}

func TestSessionCache_GetMiss(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestClient(t)
	cache := NewSessionCache(client, time.Minute, nil)

	_, ok := cache.Get(ctx, "event-unknown")
	assert.False(t, ok)
}

func TestSessionCache_CorruptEntryIsMiss(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestClient(t)
	cache := NewSessionCache(client, time.Minute, nil)

	require.NoError(t, client.Set(ctx, sessionKey("event-1"), "{not json", time.Minute).Err())

	_, ok := cache.Get(ctx, "event-1")
	assert.False(t, ok)
}

func TestSessionCache_InvalidateClearsBothLayers(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestClient(t)
	cache := NewSessionCache(client, time.Minute, nil)

	require.NoError(t, cache.Set(ctx, testSession("event-1")))
	require.NoError(t, cache.Invalidate(ctx, "event-1"))

	_, hit := cache.mem.get("event-1")
	assert.False(t, hit)

	exists, err := client.Exists(ctx, sessionKey("event-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestSessionInvalidation_MultiInstance(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := setupTestClient(t)

	caches := make([]*SessionCache, 3)
	subscribers := make([]*InvalidationSubscriber, 3)
	for i := range 3 {
		caches[i] = NewSessionCache(client, time.Minute, nil)
		caches[i].mem.set("event-1", testSession("event-1"))
		subscribers[i] = NewInvalidationSubscriber(client, caches[i], nil)
	}

	var wg sync.WaitGroup
	for _, sub := range subscribers {
		wg.Go(func() { sub.Start(ctx) })
	}

	// Give subscribers time to attach before publishing.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, PublishSessionInvalidation(ctx, client, "event-1"))

	for i, c := range caches {
		assert.Eventually(t, func() bool {
			_, hit := c.mem.get("event-1")
			return !hit
		}, 2*time.Second, 20*time.Millisecond, "instance %d should drop its memory entry", i)
	}

	cancel()
	wg.Wait()
}
