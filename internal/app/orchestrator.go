package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
)

type OrchestratorConfig struct {
	EventID       string
	ParticipantID string
	Operator      bool
}

// Dependencies are shared by every orchestrator of a process.
type Dependencies struct {
	Lifecycle      *SessionLifecycle
	Discovery      *DiscoveryLoop
	Issuer         domain.CredentialIssuer
	Dialer         domain.MediaDialer
	MediaServerURL string
	Publisher      domain.StatePublisher // optional
	Clock          clockwork.Clock
}

// Orchestrator drives one participant of one event through the live state
// machine. A fresh instance is needed once it has ended.
type Orchestrator struct {
	cfg       OrchestratorConfig
	lifecycle *SessionLifecycle
	discovery *DiscoveryLoop
	sequencer *JoinSequencer
	autoJoin  *AutoJoinPolicy
	publisher domain.StatePublisher
	clock     clockwork.Clock

	mu               sync.Mutex
	state            domain.LiveState
	discoveryNotice  bool
	handle           *ConnectionHandle
	joining          bool
	started          bool
	ctx              context.Context
	cancel           context.CancelFunc
	stopDiscovery    context.CancelFunc
	subscribers      map[int]chan domain.LiveState
	nextSubscriberID int

	wg sync.WaitGroup
}

func NewOrchestrator(cfg OrchestratorConfig, deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		lifecycle:   deps.Lifecycle,
		discovery:   deps.Discovery,
		sequencer:   NewJoinSequencer(deps.Issuer, deps.Dialer, NewCredentialGuard(), deps.MediaServerURL),
		autoJoin:    NewAutoJoinPolicy(cfg.Operator),
		publisher:   deps.Publisher,
		clock:       deps.Clock,
		subscribers: make(map[int]chan domain.LiveState),
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.state = domain.LiveState{
		EventID:       cfg.EventID,
		ParticipantID: cfg.ParticipantID,
		Operator:      cfg.Operator,
		Phase:         domain.PhaseNoSession,
		UpdatedAt:     deps.Clock.Now(),
	}
	return o
}

func (o *Orchestrator) Config() OrchestratorConfig {
	return o.cfg
}

// Start moves to discovering and begins polling. ctx bounds the lifetime of
// every background task of the orchestrator.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase == domain.PhaseEnded {
		return domain.ErrOrchestratorEnded
	}
	if o.started {
		return nil
	}
	o.started = true
	o.cancel()
	o.ctx, o.cancel = context.WithCancel(ctx)

	if o.publisher != nil {
		updates := o.subscribeLocked()
		o.wg.Go(func() { o.forward(updates) })
	}

	o.setPhaseLocked(domain.PhaseDiscovering)
	o.commitLocked()
	o.startDiscoveryLocked()
	return nil
}

// GoLive makes sure an active session exists and starts the broadcaster join.
func (o *Orchestrator) GoLive(ctx context.Context) error {
	if !o.cfg.Operator {
		return apperrors.ValidationError("only the event operator can go live")
	}

	o.mu.Lock()
	switch o.state.Phase {
	case domain.PhaseEnded:
		o.mu.Unlock()
		return domain.ErrOrchestratorEnded
	case domain.PhaseNoSession:
		o.mu.Unlock()
		return apperrors.ValidationError("orchestrator has not been started")
	case domain.PhaseLive:
		o.mu.Unlock()
		return nil
	case domain.PhaseJoining:
		o.mu.Unlock()
		return errConcurrentCredentialRequest()
	case domain.PhaseEnding:
		o.mu.Unlock()
		return apperrors.ConflictError("stream is ending")
	}
	o.mu.Unlock()

	session, err := o.lifecycle.EnsureLive(ctx, o.cfg.EventID)

	o.mu.Lock()
	if o.state.Phase == domain.PhaseEnded {
		o.mu.Unlock()
		return domain.ErrOrchestratorEnded
	}
	if err != nil {
		o.setNoticeLocked(err)
		o.commitLocked()
		o.mu.Unlock()
		slog.WarnContext(ctx, "Go live failed", "event_id", o.cfg.EventID, "error", err)
		return err
	}

	o.state.Session = session.Clone()
	if o.state.Phase == domain.PhaseDiscovering {
		o.setPhaseLocked(domain.PhaseSessionReady)
	}
	if o.stopDiscovery != nil {
		o.stopDiscovery()
		o.stopDiscovery = nil
	}
	fire := o.autoJoin.Observe(session, o.connectedLocked(), o.joining)
	o.commitLocked()
	o.mu.Unlock()

	if !fire {
		return nil
	}
	return o.join(ctx, session, domain.RoleBroadcaster)
}

// JoinAsViewer joins the active session as a viewer. Without an active
// session it fails and no credential is requested.
func (o *Orchestrator) JoinAsViewer(ctx context.Context) error {
	if o.cfg.Operator {
		return apperrors.ValidationError("operators join as broadcaster through go-live")
	}

	o.mu.Lock()
	if o.state.Phase == domain.PhaseEnded {
		o.mu.Unlock()
		return domain.ErrOrchestratorEnded
	}
	session := o.state.Session
	if session == nil || !session.Active {
		err := errNoActiveSession()
		o.setNoticeLocked(err)
		o.commitLocked()
		o.mu.Unlock()
		return err
	}
	if o.state.Phase == domain.PhaseLive {
		o.mu.Unlock()
		return nil
	}
	s := session.Clone()
	o.mu.Unlock()

	return o.join(ctx, s, domain.RoleViewer)
}

// EndStream ends the session and disconnects. Operator only.
func (o *Orchestrator) EndStream(ctx context.Context) error {
	if !o.cfg.Operator {
		return apperrors.ValidationError("only the event operator can end the stream")
	}

	o.mu.Lock()
	if o.state.Phase != domain.PhaseLive || o.state.Session == nil {
		phase := o.state.Phase
		o.mu.Unlock()
		return apperrors.ConflictError("stream is not live").WithField("phase", string(phase))
	}
	sessionID := o.state.Session.ID
	o.setPhaseLocked(domain.PhaseEnding)
	o.state.Error = nil
	o.commitLocked()
	o.mu.Unlock()

	err := o.lifecycle.End(ctx, sessionID)

	o.mu.Lock()
	if o.state.Phase == domain.PhaseEnded {
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		o.setPhaseLocked(domain.PhaseLive)
		o.setNoticeLocked(err)
		o.commitLocked()
		o.mu.Unlock()
		slog.WarnContext(ctx, "End stream failed", "event_id", o.cfg.EventID, "session_id", sessionID, "error", err)
		return err
	}

	disconnect := o.detachLocked()
	o.autoJoin.OnSessionEnded()
	if snap, ok := o.lifecycle.Snapshot(o.cfg.EventID); ok {
		o.state.Session = &snap
	}
	o.setPhaseLocked(domain.PhaseEnded)
	o.commitLocked()
	o.closeLocked()
	o.mu.Unlock()

	disconnect()
	return nil
}

// Leave disconnects and ends this orchestrator from any phase. The session
// itself stays as it is on the remote service.
func (o *Orchestrator) Leave(_ context.Context) error {
	o.mu.Lock()
	if o.state.Phase == domain.PhaseEnded {
		o.mu.Unlock()
		return nil
	}
	disconnect := o.detachLocked()
	o.setPhaseLocked(domain.PhaseEnded)
	o.commitLocked()
	o.closeLocked()
	o.mu.Unlock()

	disconnect()
	return nil
}

// Close leaves and waits for background tasks to finish.
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.Leave(ctx)
	o.wg.Wait()
	return err
}

// RetryCapture retries enabling capture on a live broadcaster connection.
func (o *Orchestrator) RetryCapture(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Phase != domain.PhaseLive || o.state.Mode != domain.ModeBroadcasting {
		o.mu.Unlock()
		return apperrors.ConflictError("not broadcasting")
	}
	if o.state.Publishing {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	err := o.sequencer.RetryCapture(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase != domain.PhaseLive {
		return err
	}
	if err != nil {
		o.setNoticeLocked(err)
		o.commitLocked()
		return err
	}
	o.state.Publishing = true
	o.state.Error = nil
	o.commitLocked()
	return nil
}

// State returns a copy of the current live state.
func (o *Orchestrator) State() domain.LiveState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneState(o.state)
}

// Subscribe returns a channel that always holds the latest state. It is
// closed when the orchestrator ends or cancel is called.
func (o *Orchestrator) Subscribe() (<-chan domain.LiveState, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase == domain.PhaseEnded {
		ch := make(chan domain.LiveState, 1)
		ch <- cloneState(o.state)
		close(ch)
		return ch, func() {}
	}

	id := o.nextSubscriberID
	ch := o.subscribeLocked()
	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subscribers[id]; ok {
			delete(o.subscribers, id)
			close(c)
		}
	}
}

func (o *Orchestrator) subscribeLocked() chan domain.LiveState {
	ch := make(chan domain.LiveState, 1)
	ch <- cloneState(o.state)
	o.subscribers[o.nextSubscriberID] = ch
	o.nextSubscriberID++
	return ch
}

func (o *Orchestrator) forward(updates <-chan domain.LiveState) {
	ctx := context.WithoutCancel(o.ctx)
	for st := range updates {
		if err := o.publisher.PublishState(ctx, st); err != nil {
			slog.WarnContext(ctx, "Failed to publish live state", "event_id", st.EventID, "phase", st.Phase, "error", err)
		}
	}
}

func (o *Orchestrator) join(ctx context.Context, session *domain.Session, role domain.Role) error {
	o.mu.Lock()
	if o.state.Phase == domain.PhaseEnded {
		o.mu.Unlock()
		return domain.ErrOrchestratorEnded
	}
	if o.joining {
		o.mu.Unlock()
		return errConcurrentCredentialRequest()
	}
	if !o.setPhaseLocked(domain.PhaseJoining) {
		phase := o.state.Phase
		o.mu.Unlock()
		return apperrors.ConflictError(fmt.Sprintf("cannot join while %s", phase))
	}
	o.joining = true
	o.state.Error = nil
	o.commitLocked()
	o.mu.Unlock()

	result, err := o.sequencer.Join(ctx, session, role)
	if sessionMayBeGone(err) {
		o.refreshSession(ctx)
	}

	o.mu.Lock()
	o.joining = false
	if o.state.Phase == domain.PhaseEnded {
		o.mu.Unlock()
		if result != nil {
			_ = result.Handle.Disconnect()
			o.sequencer.Release(result.Handle)
		}
		return domain.ErrOrchestratorEnded
	}
	defer o.mu.Unlock()

	if err != nil {
		if role == domain.RoleBroadcaster {
			o.autoJoin.OnJoinFailed()
		}
		o.setPhaseLocked(domain.PhaseSessionReady)
		o.setNoticeLocked(err)
		if snap, ok := o.lifecycle.Snapshot(o.cfg.EventID); !ok || !snap.Active {
			o.state.Session = nil
			if ok {
				o.state.Session = &snap
			}
			o.startDiscoveryLocked()
		}
		o.commitLocked()
		slog.WarnContext(ctx, "Join failed", "event_id", o.cfg.EventID, "session_id", session.ID, "role", role, "error", err)
		return err
	}

	o.handle = result.Handle
	o.setPhaseLocked(domain.PhaseLive)
	o.state.Mode = domain.ModeViewing
	if role == domain.RoleBroadcaster {
		o.state.Mode = domain.ModeBroadcasting
	}
	o.state.Publishing = result.Publishing()
	if result.CaptureErr != nil {
		o.setNoticeLocked(result.CaptureErr)
	}
	o.commitLocked()
	o.watchLocked(result.Handle)
	return nil
}

// refreshSession re-reads the active session so a session ended elsewhere
// does not stay in the snapshot.
func (o *Orchestrator) refreshSession(ctx context.Context) {
	_, err := o.lifecycle.GetActiveSession(ctx, o.cfg.EventID)
	if err != nil && !errors.Is(err, domain.ErrNotModified) {
		slog.WarnContext(ctx, "Failed to refresh session after join failure", "event_id", o.cfg.EventID, "error", err)
	}
}

// sessionMayBeGone reports join failures that a remotely ended session also produces.
func sessionMayBeGone(err error) bool {
	return apperrors.IsType(err, apperrors.TypeCredential) || apperrors.IsType(err, apperrors.TypeConnection)
}

func (o *Orchestrator) startDiscoveryLocked() {
	if o.stopDiscovery != nil {
		o.stopDiscovery()
	}
	ctx, cancel := context.WithCancel(o.ctx)
	o.stopDiscovery = cancel

	results := o.discovery.Start(ctx, o.cfg.EventID)
	o.wg.Go(func() {
		for r := range results {
			o.onDiscovery(ctx, r)
		}
	})
}

func (o *Orchestrator) onDiscovery(ctx context.Context, r DiscoveryResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctx.Err() != nil || o.state.Phase == domain.PhaseEnded {
		return
	}

	if r.Err != nil {
		o.setNoticeLocked(r.Err)
		o.discoveryNotice = true
	} else {
		o.state.Session = r.Session.Clone()
		if o.discoveryNotice {
			o.state.Error = nil
			o.discoveryNotice = false
		}
	}

	if o.state.Phase == domain.PhaseDiscovering {
		o.setPhaseLocked(domain.PhaseSessionReady)
	}

	var session *domain.Session
	if r.Err == nil && o.autoJoin.Observe(r.Session, o.connectedLocked(), o.joining) {
		session = r.Session.Clone()
	}
	o.commitLocked()

	if session != nil {
		slog.InfoContext(ctx, "Auto-joining active session", "event_id", o.cfg.EventID, "session_id", session.ID)
		o.wg.Go(func() {
			_ = o.join(o.ctx, session, domain.RoleBroadcaster)
		})
	}
}

func (o *Orchestrator) watchLocked(h *ConnectionHandle) {
	dropped := h.Dropped()
	closed := h.Closed()
	done := o.ctx.Done()
	o.wg.Go(func() {
		select {
		case <-dropped:
			o.onConnectionLost(h)
		case <-closed:
		case <-done:
		}
	})
}

func (o *Orchestrator) onConnectionLost(h *ConnectionHandle) {
	o.mu.Lock()
	if o.handle != h || o.state.Phase != domain.PhaseLive {
		o.mu.Unlock()
		return
	}
	slog.Warn("Media connection lost", "event_id", o.cfg.EventID, "session_id", h.SessionID())

	o.handle = nil
	o.sequencer.Release(h)
	o.autoJoin.OnJoinFailed()

	o.setPhaseLocked(domain.PhaseSessionReady)
	o.setNoticeLocked(apperrors.ConnectionError("connection to media server lost", nil))
	o.commitLocked()
	o.startDiscoveryLocked()
	o.mu.Unlock()

	_ = h.Disconnect()
}

func (o *Orchestrator) connectedLocked() bool {
	return o.handle != nil && o.handle.State() == domain.ConnectionConnected
}

func (o *Orchestrator) setPhaseLocked(next domain.Phase) bool {
	prev := o.state.Phase
	if !prev.CanTransitionTo(next) {
		slog.Warn("Rejected live state transition", "event_id", o.cfg.EventID, "from", prev, "to", next)
		return false
	}
	o.state.Phase = next
	if next != domain.PhaseLive && next != domain.PhaseEnding {
		o.state.Mode = domain.ModeNone
		o.state.Publishing = false
	}
	slog.Info("Live state changed", "event_id", o.cfg.EventID, "participant_id", o.cfg.ParticipantID, "from", prev, "to", next)
	return true
}

func (o *Orchestrator) setNoticeLocked(err error) {
	o.state.Error = NoticeFrom(err)
	o.discoveryNotice = false
}

func (o *Orchestrator) commitLocked() {
	o.state.UpdatedAt = o.clock.Now()
	for _, ch := range o.subscribers {
		st := cloneState(o.state)
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

// detachLocked stops discovery and takes the connection away from the
// orchestrator. The returned func closes it and must be called without o.mu.
func (o *Orchestrator) detachLocked() func() {
	if o.stopDiscovery != nil {
		o.stopDiscovery()
		o.stopDiscovery = nil
	}
	h := o.handle
	o.handle = nil
	return func() {
		if h != nil {
			if err := h.Disconnect(); err != nil {
				slog.Warn("Failed to disconnect media connection", "event_id", o.cfg.EventID, "error", err)
			}
			o.sequencer.Release(h)
		}
		if err := o.sequencer.Disconnect(); err != nil {
			slog.Warn("Failed to disconnect media connection", "event_id", o.cfg.EventID, "error", err)
		}
	}
}

func (o *Orchestrator) closeLocked() {
	o.cancel()
	for id, ch := range o.subscribers {
		delete(o.subscribers, id)
		close(ch)
	}
}

func cloneState(s domain.LiveState) domain.LiveState {
	c := s
	c.Session = s.Session.Clone()
	if s.Error != nil {
		notice := *s.Error
		c.Error = &notice
	}
	return c
}

func errNoActiveSession() *apperrors.Error {
	err := apperrors.ConflictError("no active session: the stream has not started yet")
	err.Cause = domain.ErrNoActiveSession
	return err
}
