package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
)

const sweepInterval = 30 * time.Second

type registryKey struct {
	eventID       string
	participantID string
}

// Registry owns the orchestrators of this process, one per event and
// participant. It is the entry point used by the HTTP layer.
type Registry struct {
	ctx  context.Context
	deps Dependencies

	mu            sync.Mutex
	orchestrators map[registryKey]*Orchestrator

	sweepStopCh chan struct{}
	stopOnce    sync.Once
	sweepWg     sync.WaitGroup
}

// NewRegistry creates a registry. ctx bounds every orchestrator it starts.
func NewRegistry(ctx context.Context, deps Dependencies) *Registry {
	r := &Registry{
		ctx:           ctx,
		deps:          deps,
		orchestrators: make(map[registryKey]*Orchestrator),
		sweepStopCh:   make(chan struct{}),
	}
	r.startSweepTimer()
	return r
}

// Acquire returns the running orchestrator for the participant, starting a
// new one when none exists or the previous one has ended.
func (r *Registry) Acquire(eventID, participantID string, operator bool) (*Orchestrator, error) {
	if eventID == "" || participantID == "" {
		return nil, apperrors.ValidationError("event id and participant id are required")
	}

	key := registryKey{eventID: eventID, participantID: participantID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.orchestrators[key]; ok && o.State().Phase != domain.PhaseEnded {
		if o.Config().Operator != operator {
			return nil, apperrors.ConflictError("participant already joined with a different role").
				WithField("event_id", eventID).
				WithField("participant_id", participantID)
		}
		return o, nil
	}

	o := NewOrchestrator(OrchestratorConfig{EventID: eventID, ParticipantID: participantID, Operator: operator}, r.deps)
	if err := o.Start(r.ctx); err != nil {
		return nil, err
	}
	r.orchestrators[key] = o
	slog.Info("Orchestrator started", "event_id", eventID, "participant_id", participantID, "operator", operator)
	return o, nil
}

// Get returns the orchestrator for the participant, ended or not.
func (r *Registry) Get(eventID, participantID string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orchestrators[registryKey{eventID: eventID, participantID: participantID}]
	if !ok {
		return nil, apperrors.NotFoundError("no live state for participant").
			WithField("event_id", eventID).
			WithField("participant_id", participantID)
	}
	return o, nil
}

func (r *Registry) GoLive(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	o, err := r.Acquire(eventID, participantID, true)
	if err != nil {
		return domain.LiveState{}, err
	}
	err = o.GoLive(ctx)
	return o.State(), err
}

func (r *Registry) EndStream(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	o, err := r.Get(eventID, participantID)
	if err != nil {
		return domain.LiveState{}, err
	}
	err = o.EndStream(ctx)
	return o.State(), err
}

func (r *Registry) RetryCapture(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	o, err := r.Get(eventID, participantID)
	if err != nil {
		return domain.LiveState{}, err
	}
	err = o.RetryCapture(ctx)
	return o.State(), err
}

func (r *Registry) JoinAsViewer(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	o, err := r.Acquire(eventID, participantID, false)
	if err != nil {
		return domain.LiveState{}, err
	}
	err = o.JoinAsViewer(ctx)
	return o.State(), err
}

func (r *Registry) Leave(ctx context.Context, eventID, participantID string) (domain.LiveState, error) {
	o, err := r.Get(eventID, participantID)
	if err != nil {
		return domain.LiveState{}, err
	}
	err = o.Leave(ctx)
	return o.State(), err
}

func (r *Registry) State(_ context.Context, eventID, participantID string) (domain.LiveState, error) {
	o, err := r.Get(eventID, participantID)
	if err != nil {
		return domain.LiveState{}, err
	}
	return o.State(), nil
}

// Len returns the number of orchestrators that have not ended.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, o := range r.orchestrators {
		if o.State().Phase != domain.PhaseEnded {
			n++
		}
	}
	return n
}

// Sweep drops ended orchestrators.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var ended []*Orchestrator
	for key, o := range r.orchestrators {
		if o.State().Phase == domain.PhaseEnded {
			delete(r.orchestrators, key)
			ended = append(ended, o)
		}
	}
	r.mu.Unlock()

	for _, o := range ended {
		_ = o.Close(context.Background())
	}
	if len(ended) > 0 {
		slog.Debug("Swept ended orchestrators", "count", len(ended))
	}
	return len(ended)
}

func (r *Registry) startSweepTimer() {
	ticker := r.deps.Clock.NewTicker(sweepInterval)
	r.sweepWg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				r.Sweep()
			case <-r.sweepStopCh:
				return
			}
		}
	})
}

// Stop leaves every orchestrator and waits for their background tasks.
func (r *Registry) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		close(r.sweepStopCh)
	})
	r.sweepWg.Wait()

	r.mu.Lock()
	all := make([]*Orchestrator, 0, len(r.orchestrators))
	for key, o := range r.orchestrators {
		delete(r.orchestrators, key)
		all = append(all, o)
	}
	r.mu.Unlock()

	for _, o := range all {
		if err := o.Close(ctx); err != nil {
			slog.Warn("Failed to close orchestrator", "event_id", o.Config().EventID, "error", err)
		}
	}
}
