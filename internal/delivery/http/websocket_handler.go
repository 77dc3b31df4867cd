package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
)

const (
	statusInterval = time.Second
	writeWait      = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboard is served from another origin during development
	},
}

// streamMessage is one frame on the progress stream.
type streamMessage struct {
	Type   string                `json:"type"`
	Event  *domain.ProgressEvent `json:"event,omitempty"`
	Status any                   `json:"status,omitempty"`
}

// WebSocketHandler streams progress events and periodic status snapshots.
type WebSocketHandler struct {
	automation Automation
	logger     *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(automation Automation, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		automation: automation,
		logger:     logger,
	}
}

// Stream handles GET /api/v1/automation/stream (WebSocket upgrade)
func (h *WebSocketHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.automation.Subscribe()
	defer unsubscribe()

	// The read loop only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("WebSocket connection opened")

	if err := h.write(conn, streamMessage{Type: "status", Status: h.automation.Status()}); err != nil {
		return
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Debug("WebSocket client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case ev := <-events:
			if err := h.write(conn, streamMessage{Type: "progress", Event: &ev}); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.write(conn, streamMessage{Type: "status", Status: h.automation.Status()}); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("WebSocket write failed (client disconnected)", zap.Error(err))
		return err
	}
	return nil
}
