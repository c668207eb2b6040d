package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
)

// rateLimiterExpiry drops idle per-IP limiters.
const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits live actions per client IP. One limiter is shared by
// every action route, so a client cannot multiply its budget across actions.
// m may be nil.
func newRateLimiter(ratePerSecond float64, burst int, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			m.ObserveRateLimited(c.Path())
			return c.JSON(http.StatusTooManyRequests, apperrors.ErrorResponse{
				Error:     "rate limit exceeded",
				Type:      "rate_limited",
				Retryable: true,
			})
		},
	})
}
