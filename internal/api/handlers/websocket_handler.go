package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/audit"
	"github.com/multidb-router/backend/pkg/logger"
)

type WebSocketHandler struct {
	recorder *audit.Recorder
}

func NewWebSocketHandler(recorder *audit.Recorder) *WebSocketHandler {
	return &WebSocketHandler{recorder: recorder}
}

// HandleStream pushes every new audit entry to the client as it is recorded.
// Slow clients miss entries rather than stalling the pipeline; the sqlite
// store remains the complete record.
func (h *WebSocketHandler) HandleStream(c *websocket.Conn) {
	logger.Info("Audit stream client connected")

	entries, cancel := h.recorder.Subscribe()
	defer func() {
		cancel()
		c.Close()
		logger.Info("Audit stream client disconnected")
	}()

	// Reader goroutine: the client never sends meaningful frames, but reads
	// are required to surface close frames and pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := c.WriteJSON(entry); err != nil {
				logger.Debug("Failed to write audit entry to stream", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
