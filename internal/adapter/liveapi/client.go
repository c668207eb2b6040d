package liveapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	"github.com/kodegeo/showgeo2-sub001/internal/platform/correlation"
	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
	"github.com/kodegeo/showgeo2-sub001/internal/platform/retry"
)

const (
	maxBodyBytes = 1 << 20

	codeActiveSessionExists = "active_session_exists"
	codeSessionAlreadyEnded = "session_already_ended"
)

var defaultEndRetry = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// Client talks to the remote session service. It implements
// domain.SessionAPI and domain.CredentialIssuer.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cb         circuitbreaker.CircuitBreaker[any]
	metrics    *metrics.LiveAPIMetrics
	clock      clockwork.Clock
	endRetry   retry.Policy

	mu    sync.Mutex
	etags map[string]string
}

var (
	_ domain.SessionAPI       = (*Client)(nil)
	_ domain.CredentialIssuer = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetrics(m *metrics.LiveAPIMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithEndRetry overrides the retry policy used for EndSession.
func WithEndRetry(p retry.Policy) Option {
	return func(c *Client) { c.endRetry = p }
}

// NewClient creates a client. The circuit breaker opens at a 60% failure rate
// over at least 5 calls in 10s and probes again after 30s.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		clock:      clockwork.NewRealClock(),
		endRetry:   defaultEndRetry,
		etags:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endRetry.Clock == nil {
		c.endRetry.Clock = c.clock
	}

	c.cb = circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "liveapi",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if c.metrics != nil {
				c.metrics.CircuitBreakerChanges.WithLabelValues(e.NewState.String()).Inc()
				c.metrics.CircuitBreakerState.Set(stateToFloat(e.NewState))
			}
		}).
		Build()
	return c
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.cb.State()
}

// Check fails while the circuit breaker is open. Used as a readiness probe.
func (c *Client) Check(_ context.Context) error {
	if state := c.BreakerState(); state == circuitbreaker.OpenState {
		return fmt.Errorf("live api circuit breaker %s", state)
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinTokenRequest struct {
	Role domain.Role `json:"role"`
}

// joinTokenResponse may carry a server URL; it is deliberately not decoded.
type joinTokenResponse struct {
	Token string `json:"token"`
}

// CreateSession creates a session for the event.
func (c *Client) CreateSession(ctx context.Context, eventID string) (*domain.Session, error) {
	const op = "create_session"

	resp, body, err := c.do(ctx, op, http.MethodPost, "/events/"+url.PathEscape(eventID)+"/live-sessions", nil, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		session, err := decodeSession(body)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, apperrors.ExternalError("create session returned an empty body", nil)
		}
		c.observe(op, "ok")
		return session, nil
	case isConflict(resp.StatusCode, body, codeActiveSessionExists):
		c.observe(op, "conflict")
		return nil, domain.ErrActiveSessionExists
	default:
		return nil, c.statusError(op, resp.StatusCode, body)
	}
}

// GetActiveSession fetches the active session with a conditional request.
func (c *Client) GetActiveSession(ctx context.Context, eventID string) (*domain.Session, error) {
	const op = "get_active_session"

	header := http.Header{}
	if etag := c.etag(eventID); etag != "" {
		header.Set("If-None-Match", etag)
	}

	resp, body, err := c.do(ctx, op, http.MethodGet, "/events/"+url.PathEscape(eventID)+"/live-sessions/active", nil, header)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		c.observe(op, "not_modified")
		return nil, domain.ErrNotModified
	case http.StatusNoContent, http.StatusNotFound:
		c.setETag(eventID, "")
		c.observe(op, "none")
		return nil, nil
	case http.StatusOK:
		session, err := decodeSession(body)
		if err != nil {
			return nil, err
		}
		c.setETag(eventID, resp.Header.Get("ETag"))
		c.observe(op, "ok")
		return session, nil
	default:
		return nil, c.statusError(op, resp.StatusCode, body)
	}
}

// EndSession ends the session, retrying transient failures.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	const op = "end_session"

	return retry.DoVoid(ctx, c.endRetry, classifyEnd, func() error {
		resp, body, err := c.do(ctx, op, http.MethodPost, "/live-sessions/"+url.PathEscape(sessionID)+"/end", nil, nil)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
			c.observe(op, "ok")
			return nil
		case resp.StatusCode == http.StatusNotFound:
			c.observe(op, "not_found")
			return domain.ErrSessionNotFound
		case isConflict(resp.StatusCode, body, codeSessionAlreadyEnded):
			c.observe(op, "already_ended")
			return domain.ErrSessionAlreadyEnded
		default:
			return c.statusError(op, resp.StatusCode, body)
		}
	})
}

// IssueJoinCredential requests a role-scoped token for the event's active room.
func (c *Client) IssueJoinCredential(ctx context.Context, eventID string, role domain.Role) (domain.JoinCredential, error) {
	const op = "issue_join_credential"

	resp, body, err := c.do(ctx, op, http.MethodPost, "/events/"+url.PathEscape(eventID)+"/live-sessions/join-token", joinTokenRequest{Role: role}, nil)
	if err != nil {
		return domain.JoinCredential{}, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.JoinCredential{}, c.statusError(op, resp.StatusCode, body)
	}

	var out joinTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.JoinCredential{}, apperrors.ExternalError("failed to decode join token response", err)
	}
	c.observe(op, "ok")
	return domain.JoinCredential{Token: out.Token}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any, header http.Header) (*http.Response, []byte, error) {
	if !c.cb.TryAcquirePermit() {
		c.observe(op, "circuit_open")
		return nil, nil, apperrors.ExternalError("session service unavailable", circuitbreaker.ErrOpen).
			WithField("operation", op)
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.cb.RecordSuccess()
			return nil, nil, apperrors.InternalError("failed to encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		c.cb.RecordSuccess()
		return nil, nil, apperrors.InternalError("failed to create request", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id, ok := correlation.ID(ctx); ok {
		req.Header.Set(correlation.Header, id)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.RequestDuration.WithLabelValues(op).Observe(c.clock.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			c.cb.RecordSuccess()
		} else {
			c.cb.RecordError(err)
		}
		c.observe(op, "error")
		return nil, nil, apperrors.ExternalError("session service request failed", err).WithField("operation", op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.cb.RecordError(err)
		c.observe(op, "error")
		return nil, nil, apperrors.ExternalError("failed to read session service response", err).WithField("operation", op)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.cb.RecordError(fmt.Errorf("status %d", resp.StatusCode))
	} else {
		c.cb.RecordSuccess()
	}
	return resp, body, nil
}

func (c *Client) statusError(op string, status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	message := eb.Message
	if message == "" {
		message = http.StatusText(status)
	}

	var err *apperrors.Error
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		err = apperrors.ValidationError(message)
		c.observe(op, "client_error")
	case status == http.StatusNotFound:
		err = apperrors.NotFoundError(message)
		c.observe(op, "client_error")
	case status == http.StatusConflict:
		err = apperrors.ConflictError(message)
		c.observe(op, "conflict")
	case status >= http.StatusInternalServerError:
		err = apperrors.ExternalError("session service error: "+message, nil)
		c.observe(op, "server_error")
	default:
		err = apperrors.ExternalError("session service rejected request: "+message, nil)
		c.observe(op, "client_error")
	}
	err = err.WithField("operation", op).WithField("status", status)
	if eb.Code != "" {
		err = err.WithField("code", eb.Code)
	}
	return err
}

func (c *Client) observe(op, result string) {
	if c.metrics != nil {
		c.metrics.Requests.WithLabelValues(op, result).Inc()
	}
}

func (c *Client) etag(eventID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.etags[eventID]
}

func (c *Client) setETag(eventID, etag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if etag == "" {
		delete(c.etags, eventID)
		return
	}
	c.etags[eventID] = etag
}

// isConflict matches a 409 without a code, or any 4xx carrying the given code.
func isConflict(status int, body []byte, code string) bool {
	if status < 400 || status >= 500 {
		return false
	}
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	return eb.Code == code || (status == http.StatusConflict && eb.Code == "")
}

func decodeSession(body []byte) (*domain.Session, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var s domain.Session
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, apperrors.ExternalError("failed to decode session", err)
	}
	if s.ID == "" {
		return nil, nil
	}
	return &s, nil
}

func classifyEnd(err error) retry.Action {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionAlreadyEnded):
		return retry.Stop
	case errors.Is(err, circuitbreaker.ErrOpen):
		return retry.Stop
	case apperrors.IsType(err, apperrors.TypeExternal):
		return retry.Retry
	default:
		return retry.Stop
	}
}
