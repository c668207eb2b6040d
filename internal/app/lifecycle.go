package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
	"golang.org/x/sync/singleflight"
)

// SessionLifecycle creates and ends sessions and owns the last known session
// per event. Everything else reads copies through Snapshot.
type SessionLifecycle struct {
	api   domain.SessionAPI
	cache domain.SessionCache
	clock clockwork.Clock

	goLiveGroup singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewSessionLifecycle creates the manager. cache may be nil when no shared cache is configured.
func NewSessionLifecycle(api domain.SessionAPI, cache domain.SessionCache, clock clockwork.Clock) *SessionLifecycle {
	return &SessionLifecycle{
		api:      api,
		cache:    cache,
		clock:    clock,
		sessions: make(map[string]*domain.Session),
	}
}

// Create asks the remote service for a new session. An existing active session
// is an expected outcome reported as domain.ErrNoSessionCreated.
func (l *SessionLifecycle) Create(ctx context.Context, eventID string) (*domain.Session, error) {
	if eventID == "" {
		return nil, apperrors.ValidationError("event id is required")
	}

	session, err := l.api.CreateSession(ctx, eventID)
	if errors.Is(err, domain.ErrActiveSessionExists) {
		slog.InfoContext(ctx, "Session already active, falling back to discovery", "event_id", eventID)
		return nil, domain.ErrNoSessionCreated
	}
	if err != nil {
		return nil, fmt.Errorf("create session for event %s: %w", eventID, err)
	}
	if session == nil {
		return nil, apperrors.ExternalError("create session returned no session", nil).WithField("event_id", eventID)
	}

	l.store(ctx, session)
	slog.InfoContext(ctx, "Session created", "event_id", eventID, "session_id", session.ID)
	return session.Clone(), nil
}

// GetActiveSession refreshes the snapshot from the remote service. It returns
// (nil, nil) when the event has no session and passes domain.ErrNotModified
// through without touching the snapshot.
func (l *SessionLifecycle) GetActiveSession(ctx context.Context, eventID string) (*domain.Session, error) {
	session, err := l.api.GetActiveSession(ctx, eventID)
	if errors.Is(err, domain.ErrNotModified) {
		return nil, domain.ErrNotModified
	}
	if err != nil {
		return nil, fmt.Errorf("get active session for event %s: %w", eventID, err)
	}

	if session == nil {
		l.forget(ctx, eventID)
		return nil, nil
	}

	l.store(ctx, session)
	return session.Clone(), nil
}

// EnsureLive returns a usable active session for the event: the cached one,
// a newly created one, or the one that made creation conflict. Concurrent
// callers for the same event share one attempt.
func (l *SessionLifecycle) EnsureLive(ctx context.Context, eventID string) (*domain.Session, error) {
	v, err, _ := l.goLiveGroup.Do(eventID, func() (any, error) {
		if cached, ok := l.cachedActive(ctx, eventID); ok {
			return cached, nil
		}

		created, err := l.Create(ctx, eventID)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, domain.ErrNoSessionCreated) {
			return nil, err
		}

		existing, err := l.GetActiveSession(ctx, eventID)
		if errors.Is(err, domain.ErrNotModified) {
			if snap, ok := l.Snapshot(eventID); ok && snap.Active {
				return &snap, nil
			}
			existing, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
		if existing == nil || !existing.Active {
			return nil, errNoUsableSession(eventID)
		}

		slog.InfoContext(ctx, "Joined existing session after create conflict", "event_id", eventID, "session_id", existing.ID)
		return existing, nil
	})
	if err != nil {
		return nil, err
	}

	session, _ := v.(*domain.Session)
	return session.Clone(), nil
}

// End ends the session. Ending an unknown or already ended session succeeds.
func (l *SessionLifecycle) End(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperrors.ValidationError("session id is required")
	}

	err := l.api.EndSession(ctx, sessionID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionAlreadyEnded):
		slog.DebugContext(ctx, "Session already ended", "session_id", sessionID)
	case err != nil:
		return fmt.Errorf("end session %s: %w", sessionID, err)
	}

	l.markEnded(ctx, sessionID)
	slog.InfoContext(ctx, "Session ended", "session_id", sessionID)
	return nil
}

// Snapshot returns a copy of the last known session for the event.
func (l *SessionLifecycle) Snapshot(eventID string) (domain.Session, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.sessions[eventID]
	if !ok {
		return domain.Session{}, false
	}
	return *s.Clone(), true
}

func (l *SessionLifecycle) cachedActive(ctx context.Context, eventID string) (*domain.Session, bool) {
	if snap, ok := l.Snapshot(eventID); ok && snap.Active {
		return &snap, true
	}
	if l.cache == nil {
		return nil, false
	}

	shared, ok := l.cache.Get(ctx, eventID)
	if !ok || shared == nil || !shared.Active {
		return nil, false
	}
	l.storeLocal(shared)
	slog.DebugContext(ctx, "Using shared cached session", "event_id", eventID, "session_id", shared.ID)
	return shared.Clone(), true
}

func (l *SessionLifecycle) store(ctx context.Context, session *domain.Session) {
	l.storeLocal(session)
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ctx, session); err != nil {
		slog.WarnContext(ctx, "Failed to write shared session cache", "event_id", session.EventID, "error", err)
	}
}

func (l *SessionLifecycle) storeLocal(session *domain.Session) {
	l.mu.Lock()
	l.sessions[session.EventID] = session.Clone()
	l.mu.Unlock()
}

func (l *SessionLifecycle) forget(ctx context.Context, eventID string) {
	l.mu.Lock()
	_, known := l.sessions[eventID]
	delete(l.sessions, eventID)
	l.mu.Unlock()

	if known && l.cache != nil {
		if err := l.cache.Invalidate(ctx, eventID); err != nil {
			slog.WarnContext(ctx, "Failed to invalidate shared session cache", "event_id", eventID, "error", err)
		}
	}
}

func (l *SessionLifecycle) markEnded(ctx context.Context, sessionID string) {
	now := l.clock.Now()

	l.mu.Lock()
	var eventID string
	for id, s := range l.sessions {
		if s.ID != sessionID {
			continue
		}
		eventID = id
		s.Active = false
		if s.EndedAt == nil {
			s.EndedAt = &now
		}
	}
	l.mu.Unlock()

	if eventID != "" && l.cache != nil {
		if err := l.cache.Invalidate(ctx, eventID); err != nil {
			slog.WarnContext(ctx, "Failed to invalidate shared session cache", "event_id", eventID, "error", err)
		}
	}
}

func errNoUsableSession(eventID string) *apperrors.Error {
	err := apperrors.ConflictError("an active session exists for this event but could not be discovered").
		WithField("event_id", eventID)
	err.Cause = domain.ErrNoActiveSession
	return err
}
