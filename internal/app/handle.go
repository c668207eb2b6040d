package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/kodegeo/showgeo2-sub001/internal/domain"
)

// ConnectionHandle wraps one media-transport connection. State only moves
// forward; a new attempt needs a new handle.
type ConnectionHandle struct {
	sessionID string
	role      domain.Role

	mu         sync.Mutex
	state      domain.ConnectionState
	conn       domain.MediaConnection
	publishing bool

	disconnectOnce sync.Once
	disconnectErr  error
	closed         chan struct{}
}

func newConnectionHandle(sessionID string, role domain.Role) *ConnectionHandle {
	return &ConnectionHandle{
		sessionID: sessionID,
		role:      role,
		state:     domain.ConnectionDisconnected,
		closed:    make(chan struct{}),
	}
}

func (h *ConnectionHandle) SessionID() string { return h.sessionID }
func (h *ConnectionHandle) Role() domain.Role { return h.role }

func (h *ConnectionHandle) State() domain.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *ConnectionHandle) Publishing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.publishing
}

func (h *ConnectionHandle) matches(sessionID string, role domain.Role) bool {
	return h.sessionID == sessionID && h.role == role && h.State() == domain.ConnectionConnected
}

func (h *ConnectionHandle) transitionLocked(next domain.ConnectionState) error {
	if !h.state.CanTransitionTo(next) {
		return fmt.Errorf("invalid connection transition %s -> %s", h.state, next)
	}
	h.state = next
	return nil
}

func (h *ConnectionHandle) beginConnecting() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(domain.ConnectionConnecting)
}

// attach takes ownership of conn. On a closed handle the connection is closed right away.
func (h *ConnectionHandle) attach(conn domain.MediaConnection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.transitionLocked(domain.ConnectionConnected); err != nil {
		_ = conn.Close()
		return err
	}
	h.conn = conn
	return nil
}

func (h *ConnectionHandle) enableCapture(ctx context.Context) error {
	h.mu.Lock()
	conn := h.conn
	connected := h.state == domain.ConnectionConnected
	h.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("connection is %s", h.State())
	}
	if err := conn.EnableCapture(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.publishing = true
	h.mu.Unlock()
	return nil
}

// Disconnect releases the connection exactly once. Later calls are no-ops
// returning the first result.
func (h *ConnectionHandle) Disconnect() error {
	h.disconnectOnce.Do(func() {
		h.mu.Lock()
		conn := h.conn
		h.conn = nil
		h.publishing = false
		if h.state != domain.ConnectionDisconnected {
			h.state = domain.ConnectionDisconnected
		}
		h.mu.Unlock()

		if conn != nil {
			h.disconnectErr = conn.Close()
		}
		close(h.closed)
	})
	return h.disconnectErr
}

// Dropped is closed when the remote side ends the connection.
func (h *ConnectionHandle) Dropped() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	return h.conn.Done()
}

// Closed is closed once Disconnect has run.
func (h *ConnectionHandle) Closed() <-chan struct{} {
	return h.closed
}
