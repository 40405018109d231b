package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/broker"
	"github.com/capitalize-ai/leadrelay/internal/middleware"
	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
	"github.com/capitalize-ai/leadrelay/pkg/metrics"
)

const (
	socketWriteWait    = 10 * time.Second
	socketMaxFrameSize = 4096
)

// SocketHandler serves dashboard sessions over websocket. Each connection is a router
// session on the tenant's router; join and leave frames change its room memberships.
type SocketHandler struct {
	registry  *broker.Registry
	heartbeat time.Duration
	logger    *logger.Logger
	upgrader  websocket.Upgrader
}

// NewSocketHandler creates a websocket handler that sends a heartbeat every interval.
func NewSocketHandler(registry *broker.Registry, heartbeat time.Duration, log *logger.Logger) *SocketHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &SocketHandler{
		registry:  registry,
		heartbeat: heartbeat,
		logger:    log.Component("socket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origins are enforced by the CORS layer and the bearer token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles GET /api/v1/ws
func (h *SocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	userID := middleware.GetUserID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	router := h.registry.For(tenantID)
	sess := router.NewSession(uuid.Must(uuid.NewV7()).String(), tenantID, userID)
	defer router.RemoveSession(sess.ID)

	metrics.IncrementSessions("websocket")
	defer metrics.DecrementSessions("websocket")

	log := h.logger.
		WithRequest(middleware.GetCorrelationID(r.Context()), tenantID, userID).
		With(zap.String("session_id", sess.ID))
	log.Info("websocket session connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	control := make(chan model.WireEvent, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, sess, control, log)
		cancel()
		// Unblocks the reader when the writer gives up first.
		_ = conn.Close()
	}()

	h.readLoop(ctx, conn, router, sess.ID, control, log)
	cancel()
	<-writerDone

	log.Info("websocket session disconnected")
}

func (h *SocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, router *broker.Router, sessionID string, control chan<- model.WireEvent, log *logger.Logger) {
	pongWait := 2 * h.heartbeat
	conn.SetReadLimit(socketMaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f model.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := applyFrame(router, sessionID, f); err != nil {
			log.Debug("rejected frame", zap.String("type", string(f.Type)), zap.Error(err))
			select {
			case control <- errorFrame(f, err):
			case <-ctx.Done():
				return
			}
		}
	}
}

// applyFrame changes the session's room memberships for a join or leave frame.
func applyFrame(router *broker.Router, sessionID string, f model.Frame) error {
	d, err := room.ParseDisposition(f.Disposition)
	if err != nil {
		return err
	}
	k := room.Normalize(f.Area, string(d))
	switch f.Type {
	case model.FrameJoin:
		return router.Join(sessionID, k)
	case model.FrameLeave:
		return router.Leave(sessionID, k)
	default:
		return errUnknownFrame
	}
}

var errUnknownFrame = errors.New("unknown frame type")

func errorFrame(f model.Frame, err error) model.WireEvent {
	code := "frame_error"
	switch {
	case errors.Is(err, room.ErrUnknownDisposition):
		code = "unknown_disposition"
	case errors.Is(err, errUnknownFrame):
		code = "unknown_frame"
	case errors.Is(err, broker.ErrSessionClosed), errors.Is(err, broker.ErrUnknownSession):
		code = "session_closed"
	}
	data, _ := json.Marshal(&model.ErrorEvent{Code: code, Message: string(f.Type) + ": " + err.Error()})
	return model.WireEvent{Event: model.EventError, Data: data}
}

// writeLoop is the only writer on conn.
func (h *SocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *broker.Session, control <-chan model.WireEvent, log *logger.Logger) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	write := func(evt model.WireEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		if err := conn.WriteJSON(evt); err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	connected, _ := json.Marshal(map[string]string{"session_id": sess.ID})
	if !write(model.WireEvent{Event: model.EventConnected, Data: connected}) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(socketWriteWait))
			return

		case evt, ok := <-sess.Outbound():
			if !ok {
				return
			}
			data, err := evt.Data()
			if err != nil {
				log.Warn("dropping unencodable event", zap.String("event", evt.Name()), zap.Error(err))
				continue
			}
			if !write(model.WireEvent{Event: evt.Name(), Data: data}) {
				return
			}

		case evt := <-control:
			if !write(evt) {
				return
			}

		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait)); err != nil {
				return
			}
			data, _ := json.Marshal(&model.HeartbeatEvent{Timestamp: time.Now().UTC()})
			if !write(model.WireEvent{Event: model.EventHeartbeat, Data: data}) {
				return
			}
		}
	}
}
