package domain

import (
	"context"
	"time"
)

type Phase string

const (
	PhaseNoSession    Phase = "no_session"
	PhaseDiscovering  Phase = "discovering"
	PhaseSessionReady Phase = "session_ready"
	PhaseJoining      Phase = "joining"
	PhaseLive         Phase = "live"
	PhaseEnding       Phase = "ending"
	PhaseEnded        Phase = "ended"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseNoSession:    {PhaseDiscovering},
	PhaseDiscovering:  {PhaseSessionReady},
	PhaseSessionReady: {PhaseJoining},
	PhaseJoining:      {PhaseLive, PhaseSessionReady},
	PhaseLive:         {PhaseEnding, PhaseSessionReady},
	PhaseEnding:       {PhaseEnded, PhaseLive},
}

// CanTransitionTo reports whether the state machine allows p -> next.
// Every non-terminal phase may move to PhaseEnded on teardown.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p == PhaseEnded {
		return false
	}
	if next == PhaseEnded {
		return true
	}
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Mode string

const (
	ModeNone         Mode = ""
	ModeBroadcasting Mode = "broadcasting"
	ModeViewing      Mode = "viewing"
)

// Notice is an error notification for display.
type Notice struct {
	Category  string `json:"category"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// LiveState is the externally observable orchestrator state.
type LiveState struct {
	EventID       string    `json:"eventId"`
	ParticipantID string    `json:"participantId"`
	Operator      bool      `json:"operator"`
	Phase         Phase     `json:"phase"`
	Mode          Mode      `json:"mode,omitempty"`
	Publishing    bool      `json:"publishing"`
	Session       *Session  `json:"session,omitempty"`
	Error         *Notice   `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type StatePublisher interface {
	PublishState(ctx context.Context, state LiveState) error
}
