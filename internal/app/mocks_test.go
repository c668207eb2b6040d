package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
)

// --- Mock implementations ---

type mockSessionAPI struct {
	createFn    func(ctx context.Context, eventID string) (*domain.Session, error)
	getActiveFn func(ctx context.Context, eventID string) (*domain.Session, error)
	endFn       func(ctx context.Context, sessionID string) error

	createCalls atomic.Int32
	getCalls    atomic.Int32
	endCalls    atomic.Int32
}

func (m *mockSessionAPI) CreateSession(ctx context.Context, eventID string) (*domain.Session, error) {
	m.createCalls.Add(1)
	if m.createFn != nil {
		return m.createFn(ctx, eventID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSessionAPI) GetActiveSession(ctx context.Context, eventID string) (*domain.Session, error) {
	m.getCalls.Add(1)
	if m.getActiveFn != nil {
		return m.getActiveFn(ctx, eventID)
	}
	return nil, nil
}

func (m *mockSessionAPI) EndSession(ctx context.Context, sessionID string) error {
	m.endCalls.Add(1)
	if m.endFn != nil {
		return m.endFn(ctx, sessionID)
	}
	return nil
}

// fakeSessionService behaves like the remote service: at most one active
// session per event, enforced under its own lock.
type fakeSessionService struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	sessions map[string]*domain.Session // by session id
	created  int

	endErr error
}

func newFakeSessionService(clock clockwork.Clock) *fakeSessionService {
	return &fakeSessionService{clock: clock, sessions: make(map[string]*domain.Session)}
}

func (f *fakeSessionService) CreateSession(_ context.Context, eventID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.EventID == eventID && s.Active {
			return nil, domain.ErrActiveSessionExists
		}
	}
	s := &domain.Session{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Active:    true,
		RoomName:  "room-" + eventID,
		StartedAt: f.clock.Now(),
	}
	f.sessions[s.ID] = s
	f.created++
	return s.Clone(), nil
}

func (f *fakeSessionService) GetActiveSession(_ context.Context, eventID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.EventID == eventID && s.Active {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeSessionService) EndSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return f.endErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !s.Active {
		return domain.ErrSessionAlreadyEnded
	}
	now := f.clock.Now()
	s.Active = false
	s.EndedAt = &now
	return nil
}

// start seeds an active session as if another participant had gone live.
func (f *fakeSessionService) start(eventID string) *domain.Session {
	s, err := f.CreateSession(context.Background(), eventID)
	if err != nil {
		panic(err)
	}
	return s
}

func (f *fakeSessionService) activeCount(eventID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.EventID == eventID && s.Active {
			n++
		}
	}
	return n
}

func (f *fakeSessionService) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type mockIssuer struct {
	issueFn func(ctx context.Context, eventID string, role domain.Role) (domain.JoinCredential, error)
	calls   atomic.Int32

	mu    sync.Mutex
	roles []domain.Role
}

func (m *mockIssuer) IssueJoinCredential(ctx context.Context, eventID string, role domain.Role) (domain.JoinCredential, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.roles = append(m.roles, role)
	m.mu.Unlock()
	if m.issueFn != nil {
		return m.issueFn(ctx, eventID, role)
	}
	return domain.JoinCredential{Token: "token-" + string(role)}, nil
}

func (m *mockIssuer) issuedRoles() []domain.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Role(nil), m.roles...)
}

type mockConn struct {
	captureFn func(ctx context.Context) error
	closeFn   func()

	captureCalls atomic.Int32
	closeCalls   atomic.Int32
	done         chan struct{}
	dropOnce     sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{done: make(chan struct{})}
}

func (c *mockConn) EnableCapture(ctx context.Context) error {
	c.captureCalls.Add(1)
	if c.captureFn != nil {
		return c.captureFn(ctx)
	}
	return nil
}

func (c *mockConn) Close() error {
	c.closeCalls.Add(1)
	if c.closeFn != nil {
		c.closeFn()
	}
	c.drop()
	return nil
}

func (c *mockConn) Done() <-chan struct{} {
	return c.done
}

// drop simulates the remote side going away.
func (c *mockConn) drop() {
	c.dropOnce.Do(func() { close(c.done) })
}

type mockDialer struct {
	dialFn func(ctx context.Context, serverURL string, cred domain.JoinCredential) (domain.MediaConnection, error)
	calls  atomic.Int32

	mu    sync.Mutex
	conns []*mockConn
	urls  []string
}

func (m *mockDialer) Dial(ctx context.Context, serverURL string, cred domain.JoinCredential) (domain.MediaConnection, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.urls = append(m.urls, serverURL)
	m.mu.Unlock()
	if m.dialFn != nil {
		return m.dialFn(ctx, serverURL, cred)
	}
	conn := newMockConn()
	m.track(conn)
	return conn, nil
}

func (m *mockDialer) track(conn *mockConn) {
	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()
}

func (m *mockDialer) lastConn() *mockConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) == 0 {
		return nil
	}
	return m.conns[len(m.conns)-1]
}

type mockCache struct {
	mu          sync.Mutex
	sessions    map[string]*domain.Session
	invalidated []string
}

func newMockCache() *mockCache {
	return &mockCache{sessions: make(map[string]*domain.Session)}
}

func (m *mockCache) Get(_ context.Context, eventID string) (*domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[eventID]
	return s.Clone(), ok
}

func (m *mockCache) Set(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.EventID] = session.Clone()
	return nil
}

func (m *mockCache) Invalidate(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, eventID)
	m.invalidated = append(m.invalidated, eventID)
	return nil
}

func (m *mockCache) invalidations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invalidated...)
}

type mockPublisher struct {
	mu     sync.Mutex
	phases []domain.Phase
}

func (m *mockPublisher) PublishState(_ context.Context, state domain.LiveState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases = append(m.phases, state.Phase)
	return nil
}

func (m *mockPublisher) published() []domain.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Phase(nil), m.phases...)
}

// --- Helpers ---

const (
	testEventID   = "event-1"
	testServerURL = "wss://media.example.test"
	waitTimeout   = 2 * time.Second
	waitTick      = 5 * time.Millisecond
)

func testSession(id string, active bool) *domain.Session {
	return &domain.Session{ID: id, EventID: testEventID, Active: active, RoomName: "room-" + id}
}

func newTestDeps(api domain.SessionAPI, issuer domain.CredentialIssuer, dialer domain.MediaDialer, clock clockwork.Clock) Dependencies {
	lifecycle := NewSessionLifecycle(api, nil, clock)
	return Dependencies{
		Lifecycle:      lifecycle,
		Discovery:      NewDiscoveryLoop(lifecycle, clock, DefaultDiscoveryInterval),
		Issuer:         issuer,
		Dialer:         dialer,
		MediaServerURL: testServerURL,
		Clock:          clock,
	}
}
