package app

import (
	"sync"
	"sync/atomic"

	"github.com/kodegeo/showgeo2-sub001/internal/domain"
)

// LatchedTrigger fires at most once until Reset.
type LatchedTrigger struct {
	fired atomic.Bool
}

// TryFire reports true for exactly one caller between resets.
func (t *LatchedTrigger) TryFire() bool {
	return t.fired.CompareAndSwap(false, true)
}

func (t *LatchedTrigger) Reset() {
	t.fired.Store(false)
}

// AutoJoinPolicy starts the broadcaster join the first time a session is seen
// active. It never fires for viewers.
type AutoJoinPolicy struct {
	operator bool
	latch    LatchedTrigger

	mu        sync.Mutex
	sessionID string
}

func NewAutoJoinPolicy(operator bool) *AutoJoinPolicy {
	return &AutoJoinPolicy{operator: operator}
}

// Observe reports whether a broadcaster join should start for this update.
func (p *AutoJoinPolicy) Observe(session *domain.Session, connected, joining bool) bool {
	if !p.operator {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if session == nil || !session.Active {
		// The session we fired for is gone.
		if p.sessionID != "" {
			p.sessionID = ""
			p.latch.Reset()
		}
		return false
	}

	if p.sessionID != "" && p.sessionID != session.ID {
		p.latch.Reset()
	}

	if connected || joining {
		return false
	}
	if !p.latch.TryFire() {
		return false
	}
	p.sessionID = session.ID
	return true
}

// OnJoinFailed re-arms the trigger so a manual retry can fire it again.
func (p *AutoJoinPolicy) OnJoinFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = ""
	p.latch.Reset()
}

func (p *AutoJoinPolicy) OnSessionEnded() {
	p.OnJoinFailed()
}
