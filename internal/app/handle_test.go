package app

import (
	"context"
	"errors"
	"testing"

	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionHandle_Lifecycle(t *testing.T) {
	h := newConnectionHandle("s1", domain.RoleBroadcaster)
	assert.Equal(t, domain.ConnectionDisconnected, h.State())
	assert.Nil(t, h.Dropped())

	require.NoError(t, h.beginConnecting())
	assert.Equal(t, domain.ConnectionConnecting, h.State())

	conn := newMockConn()
	require.NoError(t, h.attach(conn))
	assert.Equal(t, domain.ConnectionConnected, h.State())
	assert.True(t, h.matches("s1", domain.RoleBroadcaster))
	assert.False(t, h.matches("s1", domain.RoleViewer))
	assert.False(t, h.matches("s2", domain.RoleBroadcaster))

	require.NoError(t, h.enableCapture(context.Background()))
	assert.True(t, h.Publishing())
}

func TestConnectionHandle_DisconnectIsIdempotent(t *testing.T) {
	h := newConnectionHandle("s1", domain.RoleViewer)
	require.NoError(t, h.beginConnecting())
	conn := newMockConn()
	require.NoError(t, h.attach(conn))

	for range 3 {
		require.NoError(t, h.Disconnect())
	}

	assert.Equal(t, int32(1), conn.closeCalls.Load())
	assert.Equal(t, domain.ConnectionDisconnected, h.State())
	assert.False(t, h.Publishing())

	select {
	case <-h.Closed():
	default:
		t.Fatal("Closed channel should be closed after Disconnect")
	}
}

func TestConnectionHandle_DisconnectBeforeConnect(t *testing.T) {
	h := newConnectionHandle("s1", domain.RoleViewer)
	assert.NoError(t, h.Disconnect())
	assert.NoError(t, h.Disconnect())
	assert.Equal(t, domain.ConnectionDisconnected, h.State())
}

func TestConnectionHandle_AttachAfterDisconnectClosesConnection(t *testing.T) {
	h := newConnectionHandle("s1", domain.RoleBroadcaster)
	require.NoError(t, h.beginConnecting())
	require.NoError(t, h.Disconnect())

	conn := newMockConn()
	err := h.attach(conn)
	require.Error(t, err)
	assert.Equal(t, int32(1), conn.closeCalls.Load())
	assert.Equal(t, domain.ConnectionDisconnected, h.State())
}

func TestConnectionHandle_NoBackwardTransitions(t *testing.T) {
	h := newConnectionHandle("s1", domain.RoleBroadcaster)
	require.NoError(t, h.beginConnecting())
	require.NoError(t, h.attach(newMockConn()))

	assert.Error(t, h.beginConnecting())
	assert.Equal(t, domain.ConnectionConnected, h.State())
}

func TestConnectionHandle_EnableCaptureFailureKeepsConnection(t *testing.T) {
	h := newConnectionHandle("s1", domain.RoleBroadcaster)
	require.NoError(t, h.beginConnecting())
	conn := newMockConn()
	conn.captureFn = func(ctx context.Context) error { return errors.New("camera permission denied") }
	require.NoError(t, h.attach(conn))

	err := h.enableCapture(context.Background())
	require.Error(t, err)
	assert.False(t, h.Publishing())
	assert.Equal(t, domain.ConnectionConnected, h.State())
}

func TestConnectionHandle_EnableCaptureWhenDisconnected(t *testing.T) {
	h := newConnectionHandle("s1", domain.RoleBroadcaster)
	err := h.enableCapture(context.Background())
	assert.ErrorContains(t, err, "disconnected")
}
