package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
)

const DefaultHandshakeTimeout = 10 * time.Second

// Dialer opens signaling connections to the media server and authenticates
// them with the join credential.
type Dialer struct {
	ws      *websocket.Dialer
	timeout time.Duration
	metrics *metrics.TransportMetrics
}

var _ domain.MediaDialer = (*Dialer)(nil)

// NewDialer creates a dialer. m may be nil.
func NewDialer(timeout time.Duration, m *metrics.TransportMetrics) *Dialer {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Dialer{
		ws: &websocket.Dialer{
			HandshakeTimeout: timeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		timeout: timeout,
		metrics: m,
	}
}

// Dial connects to serverURL and completes the auth exchange before returning.
func (d *Dialer) Dial(ctx context.Context, serverURL string, cred domain.JoinCredential) (domain.MediaConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ws, _, err := d.ws.DialContext(ctx, serverURL, nil)
	if err != nil {
		d.observe("dial_error")
		return nil, fmt.Errorf("dial media server: %w", err)
	}

	c := newConn(ws, nil)
	data, err := c.request(ctx, authMessage{Type: msgTypeAuth, Token: cred.Token}, msgTypeAuthResult)
	if err != nil {
		_ = c.Close()
		d.observe("auth_error")
		return nil, fmt.Errorf("authenticate with media server: %w", err)
	}

	var result authResultMessage
	if err := json.Unmarshal(data, &result); err != nil {
		_ = c.Close()
		d.observe("auth_error")
		return nil, fmt.Errorf("decode auth result: %w", err)
	}
	if !result.Success {
		_ = c.Close()
		d.observe("rejected")
		return nil, fmt.Errorf("media server rejected credential: %s", result.Message)
	}

	c.metrics = d.metrics
	d.observe("ok")
	if d.metrics != nil {
		d.metrics.ActiveConnections.Inc()
	}
	slog.DebugContext(ctx, "Media connection authenticated")
	return c, nil
}

func (d *Dialer) observe(result string) {
	if d.metrics != nil {
		d.metrics.Dials.WithLabelValues(result).Inc()
	}
}
