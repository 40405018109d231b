package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

var (
	// ErrNotConnected is returned by a join issued while the socket is down. The room is
	// still joined once the socket reconnects.
	ErrNotConnected = errors.New("socket not connected")
	// ErrTransportClosed is returned after Close.
	ErrTransportClosed = errors.New("transport closed")
)

const socketWriteWait = 10 * time.Second

// SocketTransport speaks the relay's websocket protocol. It remembers the joined rooms
// and joins them again after a reconnect.
type SocketTransport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	keys   map[room.Key]struct{}
	closed bool
}

// NewSocketTransport creates a transport for the websocket endpoint at url. header is
// sent with every dial, typically carrying the Authorization bearer token.
func NewSocketTransport(url string, header http.Header, log *logger.Logger) *SocketTransport {
	return &SocketTransport{
		url:    url,
		header: header,
		dialer: websocket.DefaultDialer,
		logger: log.Component("socket"),
		keys:   make(map[room.Key]struct{}),
	}
}

// Connect dials the endpoint and replays every remembered join.
func (t *SocketTransport) Connect(ctx context.Context) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", t.url, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = conn.Close()
		return ErrTransportClosed
	}
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	for k := range t.keys {
		if err := t.writeLocked(model.Frame{Type: model.FrameJoin, Area: k.Area, Disposition: k.Disposition}); err != nil {
			return fmt.Errorf("replay join %s: %w", k, err)
		}
	}
	t.logger.Info("socket connected", zap.String("url", t.url), zap.Int("rooms", len(t.keys)))
	return nil
}

func (t *SocketTransport) Join(_ context.Context, k room.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.keys[k] = struct{}{}
	if t.conn == nil {
		return ErrNotConnected
	}
	return t.writeLocked(model.Frame{Type: model.FrameJoin, Area: k.Area, Disposition: k.Disposition})
}

func (t *SocketTransport) Leave(_ context.Context, k room.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.keys, k)
	if t.closed || t.conn == nil {
		return nil
	}
	return t.writeLocked(model.Frame{Type: model.FrameLeave, Area: k.Area, Disposition: k.Disposition})
}

func (t *SocketTransport) writeLocked(f model.Frame) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return t.conn.WriteJSON(f)
}

// Run reads events from the socket and dispatches them into m, reconnecting with
// exponential backoff when the connection drops. It returns when ctx is done or the
// transport is closed.
func (t *SocketTransport) Run(ctx context.Context, m *Manager) error {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	for {
		t.mu.Lock()
		conn, closed := t.conn, t.closed
		t.mu.Unlock()
		if closed {
			return ErrTransportClosed
		}

		if conn == nil {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			notify := func(err error, wait time.Duration) {
				t.logger.Warn("socket reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
			}
			op := func() error {
				err := t.Connect(ctx)
				if errors.Is(err, ErrTransportClosed) {
					return backoff.Permanent(err)
				}
				return err
			}
			if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			continue
		}

		err := t.read(conn, m)
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		closed = t.closed
		t.mu.Unlock()
		_ = conn.Close()

		if closed || ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("socket disconnected", zap.Error(err))
	}
}

func (t *SocketTransport) read(conn *websocket.Conn, m *Manager) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var evt model.WireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.logger.Warn("ignoring malformed frame", zap.Error(err))
			continue
		}
		switch evt.Event {
		case model.EventHeartbeat, model.EventConnected:
		case model.EventError:
			var e model.ErrorEvent
			_ = json.Unmarshal(evt.Data, &e)
			t.logger.Warn("relay reported error", zap.String("code", e.Code), zap.String("message", e.Message))
		default:
			m.Dispatch(evt.Event, evt.Data)
		}
	}
}

// Close closes the socket. Remembered rooms are released server-side when the
// connection drops.
func (t *SocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}
