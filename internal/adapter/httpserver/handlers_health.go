package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kodegeo/showgeo2-sub001/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second

	checkOK = "ok"
)

// HealthCheck is a named dependency check, e.g. the live API circuit breaker.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// healthResponse reports every check so an operator can see which
// dependency keeps the instance out of rotation.
type healthResponse struct {
	Status        string            `json:"status"`
	Orchestrators int               `json:"orchestrators"`
	Checks        map[string]string `json:"checks,omitempty"`
	FailedCheck   string            `json:"failed_check,omitempty"`
	Error         string            `json:"error,omitempty"`
}

type livenessResponse struct {
	Status        string  `json:"status"`
	Uptime        float64 `json:"uptime"`
	Orchestrators int     `json:"orchestrators"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	status, resp := s.runHealthChecks(ctx)
	return writeHealth(c, status, resp)
}

func (s *Server) handleLiveness(c echo.Context) error {
	resp := livenessResponse{
		Status:        "ok",
		Uptime:        time.Since(s.startTime).Seconds(),
		Orchestrators: s.live.Len(),
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness takes the instance out of rotation while it drains
// orchestrators on shutdown or while a dependency check fails.
func (s *Server) handleReadiness(c echo.Context) error {
	if s.draining.Load() {
		return writeHealth(c, http.StatusServiceUnavailable, healthResponse{
			Status:        "draining",
			Orchestrators: s.live.Len(),
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	status, resp := s.runHealthChecks(ctx)
	return writeHealth(c, status, resp)
}

func (s *Server) runHealthChecks(ctx context.Context) (int, healthResponse) {
	resp := healthResponse{
		Status:        "ready",
		Orchestrators: s.live.Len(),
	}
	if len(s.healthChecks) == 0 {
		return http.StatusOK, resp
	}

	resp.Checks = make(map[string]string, len(s.healthChecks))
	for _, hc := range s.healthChecks {
		err := hc.Check(ctx)
		if err == nil {
			resp.Checks[hc.Name] = checkOK
			continue
		}
		resp.Checks[hc.Name] = err.Error()
		if resp.FailedCheck == "" {
			resp.Status = "unhealthy"
			resp.FailedCheck = hc.Name
			resp.Error = err.Error()
		}
	}

	if resp.FailedCheck != "" {
		return http.StatusServiceUnavailable, resp
	}
	return http.StatusOK, resp
}

func writeHealth(c echo.Context, status int, resp healthResponse) error {
	if err := c.JSON(status, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
