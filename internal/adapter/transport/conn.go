package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
)

const writeWait = 5 * time.Second

var errConnectionClosed = errors.New("media connection closed")

type inbound struct {
	msgType string
	data    []byte
}

// Conn is an authenticated signaling connection to the media server.
type Conn struct {
	ws      *websocket.Conn
	metrics *metrics.TransportMetrics

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan inbound

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

var _ domain.MediaConnection = (*Conn)(nil)

func newConn(ws *websocket.Conn, m *metrics.TransportMetrics) *Conn {
	c := &Conn{
		ws:      ws,
		metrics: m,
		pending: make(map[string]chan inbound),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// EnableCapture asks the media server to accept this participant's published tracks.
func (c *Conn) EnableCapture(ctx context.Context) error {
	_, err := c.request(ctx, baseMessage{Type: msgTypeStartBroadcast}, msgTypeBroadcastStarted)
	if c.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.metrics.CaptureAttempts.WithLabelValues(result).Inc()
	}
	if err != nil {
		return fmt.Errorf("start broadcast: %w", err)
	}
	return nil
}

// Close leaves the room and closes the socket. Only the first call has an effect.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if writeErr := c.write(baseMessage{Type: msgTypeLeaveRoom}); writeErr != nil {
			slog.Debug("Failed to send leave message", "error", writeErr)
		}
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
		c.markDone()
		if c.metrics != nil {
			c.metrics.ActiveConnections.Dec()
		}
	})
	return err
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// request sends msg and waits for a reply of replyType. An error message from
// the server fails every pending request.
func (c *Conn) request(ctx context.Context, msg any, replyType string) ([]byte, error) {
	reply := make(chan inbound, 1)

	c.mu.Lock()
	if _, busy := c.pending[replyType]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("a %s request is already pending", replyType)
	}
	c.pending[replyType] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, replyType)
		c.mu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return nil, err
	}

	select {
	case in := <-reply:
		if in.msgType == msgTypeError {
			var em errorMessage
			_ = json.Unmarshal(in.data, &em)
			return nil, fmt.Errorf("media server error: %s", em.Message)
		}
		return in.data, nil
	case <-c.done:
		return nil, errConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer c.markDone()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Media connection dropped", "error", err)
			}
			return
		}

		var base baseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			slog.Debug("Ignoring malformed signaling message", "error", err)
			continue
		}
		c.dispatch(inbound{msgType: base.Type, data: data})
	}
}

func (c *Conn) dispatch(in inbound) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if in.msgType == msgTypeError {
		for _, ch := range c.pending {
			deliver(ch, in)
		}
		return
	}
	if ch, ok := c.pending[in.msgType]; ok {
		deliver(ch, in)
		return
	}
	if in.msgType != msgTypePong {
		slog.Debug("Unsolicited signaling message", "type", in.msgType)
	}
}

func deliver(ch chan inbound, in inbound) {
	select {
	case ch <- in:
	default:
	}
}
