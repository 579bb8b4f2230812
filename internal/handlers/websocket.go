package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsMessage is the envelope pushed to progress subscribers
type wsMessage struct {
	Type    string               `json:"type"`
	Payload models.ProgressEvent `json:"payload"`
}

// WebSocketHandler streams progress events for one job or batch per
// connection. A subscriber that connects late first receives a
// snapshot event built from the store, so the stream always opens with
// the entity's current state.
type WebSocketHandler struct {
	storage interfaces.StorageManager
	bus     interfaces.ProgressBus
	logger  arbor.ILogger
}

// NewWebSocketHandler creates the progress stream handler
func NewWebSocketHandler(storage interfaces.StorageManager, bus interfaces.ProgressBus, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		storage: storage,
		bus:     bus,
		logger:  logger,
	}
}

// ProgressHandler upgrades the connection and streams events until the
// entity reaches a terminal state or the client goes away.
// GET /ws/progress/{id}
func (h *WebSocketHandler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	entityID := strings.TrimPrefix(r.URL.Path, "/ws/progress/")
	if entityID == "" || strings.Contains(entityID, "/") {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	// Resolve before upgrading so unknown ids answer a plain 404
	snapshot, err := h.snapshotEvent(r, entityID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	// Subscribe before sending the snapshot so no event can fall in
	// between. Progress is monotonic, so a duplicate is harmless.
	events, cancel := h.bus.Subscribe(entityID)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("entity_id", entityID).Msg("Progress subscriber connected")

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	// Read pump: consumes control frames and unblocks on client close.
	// Gorilla answers client pings with pongs on our behalf here.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if done := h.send(conn, *snapshot); done {
		h.closeNormally(conn)
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				h.closeNormally(conn)
				return
			}
			if done := h.send(conn, event); done {
				h.closeNormally(conn)
				return
			}
		}
	}
}

// send writes one event; returns true when the event was terminal or
// the connection is dead
func (h *WebSocketHandler) send(conn *websocket.Conn, event models.ProgressEvent) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(wsMessage{Type: "progress", Payload: event}); err != nil {
		return true
	}
	return event.IsTerminal()
}

func (h *WebSocketHandler) closeNormally(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// snapshotEvent builds the opening event from the entity's stored state
func (h *WebSocketHandler) snapshotEvent(r *http.Request, entityID string) (*models.ProgressEvent, error) {
	if strings.HasPrefix(entityID, "batch_") {
		batch, err := h.storage.Batches().GetBatch(r.Context(), entityID)
		if err != nil {
			return nil, err
		}
		return &models.ProgressEvent{
			Kind:           models.EntityKindBatch,
			EntityID:       batch.ID,
			Status:         batch.Status,
			Progress:       batch.Progress,
			ErrorMessage:   batch.ErrorMessage,
			CompletedCount: batch.CompletedCount,
			FailedCount:    batch.FailedCount,
			Timestamp:      time.Now().UTC(),
		}, nil
	}

	job, err := h.storage.Jobs().GetJob(r.Context(), entityID)
	if err != nil {
		return nil, err
	}
	return &models.ProgressEvent{
		Kind:         models.EntityKindJob,
		EntityID:     job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		CurrentStep:  job.CurrentStep,
		ErrorMessage: job.ErrorMessage,
		Timestamp:    time.Now().UTC(),
	}, nil
}
