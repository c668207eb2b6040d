package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhase_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseNoSession, PhaseDiscovering, true},
		{PhaseNoSession, PhaseJoining, false},
		{PhaseDiscovering, PhaseSessionReady, true},
		{PhaseDiscovering, PhaseLive, false},
		{PhaseSessionReady, PhaseJoining, true},
		{PhaseSessionReady, PhaseLive, false},
		{PhaseJoining, PhaseLive, true},
		{PhaseJoining, PhaseSessionReady, true},
		{PhaseLive, PhaseEnding, true},
		{PhaseLive, PhaseSessionReady, true},
		{PhaseLive, PhaseJoining, false},
		{PhaseEnding, PhaseEnded, true},
		{PhaseEnding, PhaseLive, true},
		{PhaseDiscovering, PhaseEnded, true},
		{PhaseJoining, PhaseEnded, true},
		{PhaseEnded, PhaseDiscovering, false},
		{PhaseEnded, PhaseEnded, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestConnectionState_CanTransitionTo(t *testing.T) {
	assert.True(t, ConnectionDisconnected.CanTransitionTo(ConnectionConnecting))
	assert.False(t, ConnectionDisconnected.CanTransitionTo(ConnectionConnected))
	assert.True(t, ConnectionConnecting.CanTransitionTo(ConnectionConnected))
	assert.True(t, ConnectionConnecting.CanTransitionTo(ConnectionDisconnected))
	assert.True(t, ConnectionConnected.CanTransitionTo(ConnectionDisconnected))
	assert.False(t, ConnectionConnected.CanTransitionTo(ConnectionConnecting))
	assert.Equal(t, "connected", ConnectionConnected.String())
}

func TestSession_CloneIsDeep(t *testing.T) {
	var nilSession *Session
	assert.Nil(t, nilSession.Clone())

	ended := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	s := &Session{ID: "s1", EndedAt: &ended}
	c := s.Clone()
	*c.EndedAt = c.EndedAt.Add(1)
	assert.Equal(t, ended, *s.EndedAt)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleBroadcaster.Valid())
	assert.True(t, RoleViewer.Valid())
	assert.False(t, Role("admin").Valid())
	assert.False(t, JoinCredential{}.Valid())
	assert.True(t, JoinCredential{Token: "t"}.Valid())
}
