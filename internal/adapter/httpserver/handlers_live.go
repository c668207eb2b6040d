package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
)

// ParticipantHeader identifies the caller. Authentication happens upstream.
const ParticipantHeader = "X-Participant-ID"

type liveAction func(ctx context.Context, eventID, participantID string) (domain.LiveState, error)

func (s *Server) registerLiveRoutes(rateLimiter echo.MiddlewareFunc) {
	g := s.echo.Group("/api/events/:eventID")

	g.POST("/operator/go-live", s.handleAction(s.live.GoLive), rateLimiter)
	g.POST("/operator/end", s.handleAction(s.live.EndStream), rateLimiter)
	g.POST("/operator/leave", s.handleAction(s.live.Leave), rateLimiter)
	g.POST("/operator/retry-capture", s.handleAction(s.live.RetryCapture), rateLimiter)

	g.POST("/viewer/join", s.handleAction(s.live.JoinAsViewer), rateLimiter)
	g.POST("/viewer/leave", s.handleAction(s.live.Leave), rateLimiter)

	g.GET("/state", s.handleState)
}

// handleAction runs one orchestrator operation. A failed operation still
// returns the resulting state next to the error so the UI can render both.
func (s *Server) handleAction(action liveAction) echo.HandlerFunc {
	return func(c echo.Context) error {
		eventID, participantID, err := identify(c)
		if err != nil {
			return err
		}

		state, err := action(c.Request().Context(), eventID, participantID)
		if err != nil {
			return actionError(err, state).
				WithField("event_id", eventID).
				WithField("participant_id", participantID)
		}

		if err := c.JSON(http.StatusOK, state); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
}

func (s *Server) handleState(c echo.Context) error {
	eventID, participantID, err := identify(c)
	if err != nil {
		return err
	}

	state, err := s.live.State(c.Request().Context(), eventID, participantID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, state); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func identify(c echo.Context) (eventID, participantID string, err error) {
	eventID = c.Param("eventID")
	if eventID == "" {
		return "", "", apperrors.ValidationError("event id is required")
	}

	participantID = c.Request().Header.Get(ParticipantHeader)
	if participantID == "" {
		participantID = c.QueryParam("participant")
	}
	if participantID == "" {
		return "", "", apperrors.ValidationError("participant id is required").WithField("event_id", eventID)
	}
	return eventID, participantID, nil
}

func actionError(err error, state domain.LiveState) *apperrors.Error {
	var structured *apperrors.Error
	switch {
	case errors.As(err, &structured):
	case errors.Is(err, domain.ErrOrchestratorEnded):
		structured = apperrors.ConflictError("participant has left; start again").WithContext("cause", err.Error())
	default:
		structured = apperrors.AsStructuredError(err)
	}

	if state.Phase != "" {
		structured = structured.WithContext("phase", string(state.Phase))
	}
	return structured
}
