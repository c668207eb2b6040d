package domain

import "context"

type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// CanTransitionTo allows only forward moves. A failed attempt may drop from
// connecting straight back to disconnected.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	switch s {
	case ConnectionDisconnected:
		return next == ConnectionConnecting
	case ConnectionConnecting:
		return next == ConnectionConnected || next == ConnectionDisconnected
	case ConnectionConnected:
		return next == ConnectionDisconnected
	default:
		return false
	}
}

// MediaConnection is an established media-transport connection.
type MediaConnection interface {
	// EnableCapture starts publishing local audio and video.
	EnableCapture(ctx context.Context) error
	Close() error
	// Done is closed when the remote side drops the connection.
	Done() <-chan struct{}
}

// MediaDialer opens media-transport connections. serverURL always comes from
// local configuration, never from a credential response.
type MediaDialer interface {
	Dial(ctx context.Context, serverURL string, cred JoinCredential) (MediaConnection, error)
}
