package app

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
)

const concurrentCredentialMessage = "credential request already in flight: a retry is already in progress"

// CredentialGuard allows at most one outstanding credential request.
// One guard belongs to one orchestrator, so independent sessions never block each other.
type CredentialGuard struct {
	inFlight atomic.Bool
}

func NewCredentialGuard() *CredentialGuard {
	return &CredentialGuard{}
}

// TryAcquire sets the latch. The returned release func is safe to call more than once.
func (g *CredentialGuard) TryAcquire() (release func(), ok bool) {
	if !g.inFlight.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.inFlight.Store(false) })
	}, true
}

// Guard runs fn under the latch. A busy guard fails fast without calling fn.
// The latch is cleared on every exit path, panics included.
func Guard[T any](ctx context.Context, g *CredentialGuard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	release, ok := g.TryAcquire()
	if !ok {
		return zero, errConcurrentCredentialRequest()
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return fn(ctx)
}

func errConcurrentCredentialRequest() *apperrors.Error {
	return apperrors.ConcurrentRequestError(concurrentCredentialMessage)
}
