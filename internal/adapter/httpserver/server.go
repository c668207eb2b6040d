package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	"github.com/kodegeo/showgeo2-sub001/internal/platform/config"
)

// liveService is the orchestrator registry as seen by the HTTP layer.
type liveService interface {
	GoLive(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	EndStream(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	RetryCapture(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	JoinAsViewer(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	Leave(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	State(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	Len() int
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	live liveService

	websocketHandler http.Handler
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
	draining     atomic.Bool
}

// Option configures optional server collaborators.
type Option func(*Server)

func WithWebsocketHandler(h http.Handler) Option {
	return func(s *Server) { s.websocketHandler = h }
}

func WithMetrics(handler http.Handler, httpMetrics *metrics.HTTPMetrics) Option {
	return func(s *Server) {
		s.metricsHandler = handler
		s.httpMetrics = httpMetrics
	}
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = checks }
}

func NewServer(cfg *config.Config, live liveService, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		config:    cfg,
		live:      live,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown fails readiness first so load balancers stop routing new
// participants here, then stops accepting connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
