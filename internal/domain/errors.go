package domain

import "errors"

var (
	// ErrActiveSessionExists is the remote service's conflict signal for session creation.
	ErrActiveSessionExists = errors.New("active session already exists for event")
	// ErrNoSessionCreated is returned by the lifecycle manager when creation hit the conflict.
	// Callers fall back to discovery.
	ErrNoSessionCreated = errors.New("no session created: active session already exists")

	ErrNotModified         = errors.New("session not modified")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionAlreadyEnded = errors.New("session already ended")
	ErrNoActiveSession     = errors.New("no active session")
	ErrOrchestratorEnded   = errors.New("orchestrator has ended")
)
