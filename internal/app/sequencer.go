package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
)

// JoinResult is the outcome of a successful join. CaptureErr is set when the
// connection is up but local publish could not be enabled.
type JoinResult struct {
	Handle     *ConnectionHandle
	CaptureErr error
	Reused     bool
}

func (r *JoinResult) Publishing() bool {
	return r.Handle != nil && r.Handle.Publishing()
}

// JoinSequencer turns a session and a role into a connected media-transport handle.
type JoinSequencer struct {
	issuer    domain.CredentialIssuer
	dialer    domain.MediaDialer
	guard     *CredentialGuard
	serverURL string

	mu      sync.Mutex
	current *ConnectionHandle
}

// NewJoinSequencer creates a sequencer. serverURL comes from local configuration
// and is the only endpoint ever dialed.
func NewJoinSequencer(issuer domain.CredentialIssuer, dialer domain.MediaDialer, guard *CredentialGuard, serverURL string) *JoinSequencer {
	return &JoinSequencer{
		issuer:    issuer,
		dialer:    dialer,
		guard:     guard,
		serverURL: serverURL,
	}
}

// Join acquires a credential, connects and, for broadcasters, enables capture.
// Joining again for a connected session and role returns the existing handle.
func (s *JoinSequencer) Join(ctx context.Context, session *domain.Session, role domain.Role) (*JoinResult, error) {
	if err := validateJoin(session, role); err != nil {
		return nil, err
	}
	if s.serverURL == "" {
		return nil, apperrors.ConfigurationError("media server URL is not configured")
	}

	if h := s.Current(); h != nil && h.matches(session.ID, role) {
		return &JoinResult{Handle: h, Reused: true}, nil
	}

	handle, err := s.connect(ctx, session, role)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.current
	s.current = handle
	s.mu.Unlock()
	if prev != nil {
		if err := prev.Disconnect(); err != nil {
			slog.WarnContext(ctx, "Failed to close superseded connection", "session_id", prev.SessionID(), "error", err)
		}
	}

	result := &JoinResult{Handle: handle}
	if role == domain.RoleBroadcaster {
		result.CaptureErr = s.enableCapture(ctx, handle)
	}
	return result, nil
}

// connect holds the credential guard from issuance until the connection is up.
func (s *JoinSequencer) connect(ctx context.Context, session *domain.Session, role domain.Role) (*ConnectionHandle, error) {
	return Guard(ctx, s.guard, func(ctx context.Context) (*ConnectionHandle, error) {
		return s.dialGuarded(ctx, session, role)
	})
}

func (s *JoinSequencer) dialGuarded(ctx context.Context, session *domain.Session, role domain.Role) (*ConnectionHandle, error) {
	handle := newConnectionHandle(session.ID, role)
	if err := handle.beginConnecting(); err != nil {
		return nil, apperrors.InternalError("failed to start connection", err)
	}

	cred, err := s.issuer.IssueJoinCredential(ctx, session.EventID, role)
	if err != nil {
		_ = handle.Disconnect()
		return nil, apperrors.CredentialError("failed to acquire join credential", err).
			WithField("session_id", session.ID).
			WithField("role", string(role))
	}
	if !cred.Valid() {
		_ = handle.Disconnect()
		return nil, apperrors.CredentialError("join credential is empty", nil).
			WithField("session_id", session.ID)
	}

	conn, err := s.dialer.Dial(ctx, s.serverURL, cred)
	if err != nil {
		_ = handle.Disconnect()
		return nil, apperrors.ConnectionError("failed to connect to media server", err).
			WithField("session_id", session.ID)
	}

	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		_ = handle.Disconnect()
		return nil, apperrors.ConnectionError("join cancelled", err)
	}

	if err := handle.attach(conn); err != nil {
		return nil, apperrors.ConnectionError("connection closed during join", err)
	}

	slog.InfoContext(ctx, "Connected to media server", "session_id", session.ID, "role", role)
	return handle, nil
}

func (s *JoinSequencer) enableCapture(ctx context.Context, handle *ConnectionHandle) error {
	if err := handle.enableCapture(ctx); err != nil {
		slog.WarnContext(ctx, "Connected but not broadcasting", "session_id", handle.SessionID(), "error", err)
		return apperrors.CaptureError("connected but not broadcasting", err).
			WithField("session_id", handle.SessionID())
	}
	return nil
}

// RetryCapture enables capture on the current broadcaster connection without reconnecting.
func (s *JoinSequencer) RetryCapture(ctx context.Context) error {
	h := s.Current()
	if h == nil || h.State() != domain.ConnectionConnected {
		return apperrors.ValidationError("not connected")
	}
	if h.Role() != domain.RoleBroadcaster {
		return apperrors.ValidationError("capture is only available to broadcasters")
	}
	if h.Publishing() {
		return nil
	}
	return s.enableCapture(ctx, h)
}

func (s *JoinSequencer) Current() *ConnectionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Disconnect tears down the current connection, if any.
func (s *JoinSequencer) Disconnect() error {
	s.mu.Lock()
	h := s.current
	s.current = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Disconnect()
}

// Release forgets h if it is still current without closing it.
// Used after the owner has already disconnected h.
func (s *JoinSequencer) Release(h *ConnectionHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == h {
		s.current = nil
	}
}

func validateJoin(session *domain.Session, role domain.Role) error {
	if session == nil {
		return apperrors.ValidationError("session is required")
	}
	if session.ID == "" || session.EventID == "" {
		return apperrors.ValidationError("session id and event id are required").
			WithField("session_id", session.ID).
			WithField("event_id", session.EventID)
	}
	if !role.Valid() {
		return apperrors.ValidationError("role must be broadcaster or viewer").WithField("role", string(role))
	}
	return nil
}
