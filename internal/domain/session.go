package domain

import (
	"context"
	"time"
)

// Session is one live broadcast instance bound to exactly one event.
type Session struct {
	ID          string     `json:"id"`
	EventID     string     `json:"eventId"`
	EntityID    string     `json:"entityId"`
	Active      bool       `json:"active"`
	RoomName    string     `json:"roomName"`
	ViewerCount int        `json:"viewerCount"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Clone returns a deep copy so callers never share the cached value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleBroadcaster || r == RoleViewer
}

// JoinCredential is a short-lived, role-scoped bearer token for one room.
// Room and role are encoded inside the token by the issuer.
type JoinCredential struct {
	Token string
}

func (c JoinCredential) Valid() bool {
	return c.Token != ""
}

// SessionAPI is the remote session service.
type SessionAPI interface {
	// CreateSession returns ErrActiveSessionExists when the event already has an active session.
	CreateSession(ctx context.Context, eventID string) (*Session, error)
	// GetActiveSession returns (nil, nil) when no session exists and ErrNotModified
	// when nothing changed since the previous call for the event.
	GetActiveSession(ctx context.Context, eventID string) (*Session, error)
	EndSession(ctx context.Context, sessionID string) error
}

type CredentialIssuer interface {
	IssueJoinCredential(ctx context.Context, eventID string, role Role) (JoinCredential, error)
}

// SessionCache shares the last known session per event between processes.
type SessionCache interface {
	Get(ctx context.Context, eventID string) (*Session, bool)
	Set(ctx context.Context, session *Session) error
	Invalidate(ctx context.Context, eventID string) error
}
