package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lomi/client/internal/gate"
	"github.com/lomi/client/internal/logging"
	"github.com/lomi/client/internal/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBufferSize = 16
)

// EventsHandler streams gate snapshots over a websocket. The current
// snapshot is sent on connect, then one message per state change.
type EventsHandler struct {
	Gate     GateService
	Upgrader websocket.Upgrader
}

// NewEventsHandler builds an EventsHandler whose upgrader accepts the given
// origins. Requests without an Origin header (non-browser shells) are allowed.
func NewEventsHandler(g GateService, allowedOrigins []string) EventsHandler {
	policy := middleware.NewOriginPolicy(allowedOrigins)
	return EventsHandler{
		Gate: g,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.Allowed,
		},
	}
}

// Handle implements GET /events.
func (h EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	subscriberID := uuid.NewString()
	logger := logging.FromContext(r.Context()).With("subscriber_id", subscriberID)

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before reading the current snapshot so no transition is
	// missed; the initial snapshot is still queued first.
	send := make(chan gate.Snapshot, sendBufferSize)
	var queueMu sync.Mutex
	queueMu.Lock()
	unsubscribe := h.Gate.Subscribe(func(s gate.Snapshot) {
		queueMu.Lock()
		defer queueMu.Unlock()
		select {
		case send <- s:
		default:
			logger.Warn("event subscriber too slow, dropping snapshot", "state", s.State)
		}
	})
	defer unsubscribe()
	send <- h.Gate.Snapshot()
	queueMu.Unlock()

	// The reader only exists to process control frames and notice closes.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("event subscriber closed", "error", err)
				}
				return
			}
		}
	}()

	logger.Info("event subscriber connected")
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug("write snapshot", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			logger.Info("event subscriber disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}
