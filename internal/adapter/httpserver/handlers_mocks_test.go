package httpserver

import (
	"context"
	"testing"

	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	"github.com/kodegeo/showgeo2-sub001/internal/platform/config"
	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
)

// --- Mock implementations ---

type mockLiveService struct {
	goLiveFn       func(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	endStreamFn    func(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	retryCaptureFn func(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	joinAsViewerFn func(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	leaveFn        func(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	stateFn        func(ctx context.Context, eventID, participantID string) (domain.LiveState, error)
	orchestrators  int
}

func stateOf(eventID, participantID string, phase domain.Phase) domain.LiveState {
	return domain.LiveState{EventID: eventID, ParticipantID: participantID, Phase: phase}
}

func (m *mockLiveService) GoLive(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	if m.goLiveFn != nil {
		return m.goLiveFn(ctx, eventID, participantID)
	}
	return stateOf(eventID, participantID, domain.PhaseLive), nil
}

func (m *mockLiveService) EndStream(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	if m.endStreamFn != nil {
		return m.endStreamFn(ctx, eventID, participantID)
	}
	return stateOf(eventID, participantID, domain.PhaseEnded), nil
}

func (m *mockLiveService) RetryCapture(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	if m.retryCaptureFn != nil {
		return m.retryCaptureFn(ctx, eventID, participantID)
	}
	return stateOf(eventID, participantID, domain.PhaseLive), nil
}

func (m *mockLiveService) JoinAsViewer(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	if m.joinAsViewerFn != nil {
		return m.joinAsViewerFn(ctx, eventID, participantID)
	}
	return stateOf(eventID, participantID, domain.PhaseLive), nil
}

func (m *mockLiveService) Leave(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	if m.leaveFn != nil {
		return m.leaveFn(ctx, eventID, participantID)
	}
	return stateOf(eventID, participantID, domain.PhaseEnded), nil
}

func (m *mockLiveService) State(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	if m.stateFn != nil {
		return m.stateFn(ctx, eventID, participantID)
	}
	return domain.LiveState{}, apperrors.NotFoundError("no live state for participant")
}

func (m *mockLiveService) Len() int {
	return m.orchestrators
}

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:          "development",
		Port:            "0",
		ActionRateLimit: 100,
		ActionRateBurst: 100,
	}
}

func newTestServer(t *testing.T, live liveService, opts ...Option) *Server {
	t.Helper()
	return NewServer(testConfig(), live, opts...)
}
