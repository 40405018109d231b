package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/broker"
	"github.com/capitalize-ai/leadrelay/internal/middleware"
	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/internal/room"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
	"github.com/capitalize-ai/leadrelay/pkg/metrics"
)

// StreamHandler handles the read-only SSE alternative to the websocket session.
type StreamHandler struct {
	registry  *broker.Registry
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(registry *broker.Registry, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &StreamHandler{
		registry:  registry,
		heartbeat: heartbeat,
		logger:    log.Component("stream"),
	}
}

// Stream handles GET /api/v1/leads/stream
// The rooms are fixed for the life of the stream: ?area= may repeat, and without it the
// operator's assigned areas from the token are used.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)

	d, err := room.ParseDisposition(r.URL.Query().Get("disposition"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	areas := r.URL.Query()["area"]
	if len(areas) == 0 {
		areas = middleware.GetAreas(ctx)
	}
	keys := room.Keys(areas, string(d))

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	router := h.registry.For(tenantID)
	sess := router.NewSession(uuid.Must(uuid.NewV7()).String(), tenantID, userID)
	defer router.RemoveSession(sess.ID)
	for _, k := range keys {
		if err := router.Join(sess.ID, k); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to join room")
			return
		}
	}

	// Track active connection
	metrics.IncrementSessions("sse")
	defer metrics.DecrementSessions("sse")

	rooms := make([]string, len(keys))
	for i, k := range keys {
		rooms[i] = k.String()
	}
	sendSSEEvent(w, flusher, model.EventConnected, map[string]any{
		"session_id": sess.ID,
		"rooms":      rooms,
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", sess.ID))
			return

		case evt, ok := <-sess.Outbound():
			if !ok {
				return
			}
			data, err := evt.Data()
			if err != nil {
				h.logger.Warn("dropping unencodable event", zap.String("event", evt.Name()), zap.Error(err))
				continue
			}
			if err := sendSSEEvent(w, flusher, evt.Name(), data); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, model.EventHeartbeat, &model.HeartbeatEvent{
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
