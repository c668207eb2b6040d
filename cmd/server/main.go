package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/centrifugal/centrifuge"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kodegeo/showgeo2-sub001/internal/adapter/httpserver"
	"github.com/kodegeo/showgeo2-sub001/internal/adapter/liveapi"
	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	"github.com/kodegeo/showgeo2-sub001/internal/adapter/redis"
	"github.com/kodegeo/showgeo2-sub001/internal/adapter/transport"
	"github.com/kodegeo/showgeo2-sub001/internal/adapter/websocket"
	"github.com/kodegeo/showgeo2-sub001/internal/app"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	"github.com/kodegeo/showgeo2-sub001/internal/platform/config"
	"github.com/kodegeo/showgeo2-sub001/internal/platform/logging"
	"github.com/kodegeo/showgeo2-sub001/internal/platform/version"
)

const (
	shutdownTimeout      = 10 * time.Second
	cacheEvictionPeriod  = time.Minute
	redisConnectTimeout  = 10 * time.Second
	transportDialTimeout = transport.DefaultHandshakeTimeout
)

func runGracefulShutdown(srv *httpserver.Server, registry *app.Registry, node *centrifuge.Node, stop context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Orchestrators release their media connections before the node goes away.
		registry.Stop(shutdownCtx)
		stop()

		if err := node.Shutdown(shutdownCtx); err != nil {
			slog.Error("Centrifuge shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config, hooks ...goredis.Hook) *goredis.Client {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, running without shared session cache")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, hooks...)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	instanceID := uuid.NewString()
	slog.Info("Application starting",
		"service", version.Service,
		"version", version.Version,
		"instance_id", instanceID,
		"env", cfg.AppEnv,
		"port", cfg.Port,
	)
	if cfg.MediaServerURL == "" {
		slog.Warn("MEDIA_SERVER_URL not set, joins will fail until it is configured")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	cacheMetrics := metrics.NewCacheMetrics(reg)
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	liveAPIMetrics := metrics.NewLiveAPIMetrics(reg)
	transportMetrics := metrics.NewTransportMetrics(reg)

	liveClient := liveapi.NewClient(cfg.LiveAPIURL, cfg.LiveAPIToken, cfg.LiveAPITimeout,
		liveapi.WithMetrics(liveAPIMetrics),
		liveapi.WithClock(clock),
	)

	healthChecks := []httpserver.HealthCheck{{Name: "live_api", Check: liveClient.Check}}

	redisClient := setupRedis(cfg, redis.NewBreakerHook(cacheMetrics))
	var sessionCache domain.SessionCache
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()

		cache := redis.NewSessionCache(redisClient, cfg.SessionCacheTTL, cacheMetrics)
		stopEviction := cache.StartEvictionTimer(cacheEvictionPeriod)
		defer stopEviction()
		sessionCache = cache

		subscriber := redis.NewInvalidationSubscriber(redisClient, cache, cacheMetrics)
		go subscriber.Start(ctx)

		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	lifecycle := app.NewSessionLifecycle(liveClient, sessionCache, clock)
	discovery := app.NewDiscoveryLoop(lifecycle, clock, cfg.DiscoveryInterval)

	node, err := websocket.NewNode(cfg.LogLevel)
	if err != nil {
		slog.Error("Failed to create centrifuge node", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		if err := websocket.SetupRedis(node, redisClient.Options().Addr); err != nil {
			slog.Error("Failed to set up centrifuge redis broker", "error", err)
			os.Exit(1)
		}
	}

	registry := app.NewRegistry(ctx, app.Dependencies{
		Lifecycle:      lifecycle,
		Discovery:      discovery,
		Issuer:         liveClient,
		Dialer:         transport.NewDialer(transportDialTimeout, transportMetrics),
		MediaServerURL: cfg.MediaServerURL,
		Publisher:      websocket.NewPublisher(node, wsMetrics),
		Clock:          clock,
	})
	metrics.RegisterOrchestratorGauge(reg, registry.Len)

	websocket.RegisterHandlers(node, registry, wsMetrics)
	if err := node.Run(); err != nil {
		slog.Error("Failed to run centrifuge node", "error", err)
		os.Exit(1)
	}

	wsHandler := centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		CheckOrigin: websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
	})

	srv := httpserver.NewServer(cfg, registry,
		httpserver.WithWebsocketHandler(wsHandler),
		httpserver.WithMetrics(metrics.Handler(reg), httpMetrics),
		httpserver.WithHealthChecks(healthChecks...),
	)

	done := runGracefulShutdown(srv, registry, node, stop)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
