package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
)

const sessionInvalidationChannel = "live_session:invalidate"

// InvalidationSubscriber drops this process's memory layer whenever any
// process invalidates an event's session.
type InvalidationSubscriber struct {
	rdb     *goredis.Client
	cache   *SessionCache
	metrics *metrics.CacheMetrics
}

func NewInvalidationSubscriber(rdb *goredis.Client, cache *SessionCache, m *metrics.CacheMetrics) *InvalidationSubscriber {
	return &InvalidationSubscriber{rdb: rdb, cache: cache, metrics: m}
}

// Start blocks until ctx is cancelled or the subscription closes.
func (s *InvalidationSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, sessionInvalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			s.handleInvalidation(ctx, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *InvalidationSubscriber) handleInvalidation(ctx context.Context, eventID string) {
	if eventID == "" {
		slog.WarnContext(ctx, "Empty session invalidation message")
		return
	}

	s.cache.dropLocal(eventID)
	if s.metrics != nil {
		s.metrics.Invalidations.Inc()
	}
	slog.DebugContext(ctx, "Session cache invalidated via pub/sub", "event_id", eventID)
}

func PublishSessionInvalidation(ctx context.Context, rdb goredis.Cmdable, eventID string) error {
	if err := rdb.Publish(ctx, sessionInvalidationChannel, eventID).Err(); err != nil {
		return fmt.Errorf("failed to publish session invalidation: %w", err)
	}
	return nil
}
