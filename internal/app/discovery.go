package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	"github.com/kodegeo/showgeo2-sub001/internal/platform/correlation"
)

const DefaultDiscoveryInterval = 4 * time.Second

// SessionFetcher is the fetch primitive the discovery loop polls.
type SessionFetcher interface {
	GetActiveSession(ctx context.Context, eventID string) (*domain.Session, error)
}

// snapshotter is implemented by fetchers that keep the last known session.
// The conditional-request cache is shared by every loop of a process, so a
// NotModified answer may refer to a fetch made by another loop. The snapshot
// tells this loop what that fetch saw.
type snapshotter interface {
	Snapshot(eventID string) (domain.Session, bool)
}

// seen is what a loop last emitted.
type seen struct {
	emitted   bool
	sessionID string
	active    bool
}

func (s seen) differs(session *domain.Session) bool {
	if !s.emitted {
		return true
	}
	if session == nil {
		return s.sessionID != ""
	}
	return session.ID != s.sessionID || session.Active != s.active
}

// DiscoveryResult is one discovery emission. A nil Session means no session,
// which is also what a failed fetch degrades to.
type DiscoveryResult struct {
	Session *domain.Session
	Err     error
}

// DiscoveryLoop polls for the active session of an event on a fixed interval
// until one is observed active.
type DiscoveryLoop struct {
	fetcher  SessionFetcher
	clock    clockwork.Clock
	interval time.Duration
}

func NewDiscoveryLoop(fetcher SessionFetcher, clock clockwork.Clock, interval time.Duration) *DiscoveryLoop {
	if interval <= 0 {
		interval = DefaultDiscoveryInterval
	}
	return &DiscoveryLoop{
		fetcher:  fetcher,
		clock:    clock,
		interval: interval,
	}
}

// Start polls immediately and then once per interval. The returned channel is
// closed after an active session has been emitted or when ctx is cancelled.
// Polling never resumes by itself; call Start again to restart.
func (d *DiscoveryLoop) Start(ctx context.Context, eventID string) <-chan DiscoveryResult {
	out := make(chan DiscoveryResult)
	go d.run(ctx, eventID, out)
	return out
}

func (d *DiscoveryLoop) run(ctx context.Context, eventID string, out chan<- DiscoveryResult) {
	defer close(out)

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	slog.DebugContext(ctx, "Discovery started", "event_id", eventID, "interval", d.interval)

	var last seen
	for {
		if done := d.poll(ctx, eventID, out, &last); done {
			return
		}

		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "Discovery stopped", "event_id", eventID)
			return
		case <-ticker.Chan():
		}
	}
}

// poll reports whether the loop should terminate.
func (d *DiscoveryLoop) poll(ctx context.Context, eventID string, out chan<- DiscoveryResult, last *seen) bool {
	pollCtx := correlation.WithID(ctx, correlation.NewID())

	session, err := d.fetcher.GetActiveSession(pollCtx, eventID)
	if errors.Is(err, domain.ErrNotModified) {
		snap, ok := d.knownSession(eventID)
		if !ok || !last.differs(snap) {
			slog.DebugContext(pollCtx, "Discovery: session not modified", "event_id", eventID)
			return false
		}
		session, err = snap, nil
	}
	if err != nil {
		slog.WarnContext(pollCtx, "Discovery: fetch failed", "event_id", eventID, "error", err)
		return !emit(ctx, out, DiscoveryResult{Err: err})
	}

	if !emit(ctx, out, DiscoveryResult{Session: session}) {
		return true
	}
	*last = seen{emitted: true}
	if session != nil {
		last.sessionID, last.active = session.ID, session.Active
	}

	if session != nil && session.Active {
		slog.InfoContext(pollCtx, "Discovery: active session found", "event_id", eventID, "session_id", session.ID)
		return true
	}
	return false
}

func (d *DiscoveryLoop) knownSession(eventID string) (*domain.Session, bool) {
	s, ok := d.fetcher.(snapshotter)
	if !ok {
		return nil, false
	}
	snap, ok := s.Snapshot(eventID)
	if !ok {
		return nil, false
	}
	return &snap, true
}

func emit(ctx context.Context, out chan<- DiscoveryResult, r DiscoveryResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
