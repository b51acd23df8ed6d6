package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const pingInterval = 30 * time.Second

// HandleConnection handles a WebSocket connection. It returns when the
// client disconnects, the request context ends or CloseAll is called.
func (h *Handler) HandleConnection(conn *websocket.Conn, r *http.Request) {
	sessionID := uuid.New().String()

	ctx, cancel := context.WithCancel(r.Context())
	h.openSession(sessionID, "websocket", cancel)

	defer func() {
		cancel()
		h.closeSession(sessionID)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	h.log().Info("WebSocket session opened", map[string]interface{}{
		"session_id":  sessionID,
		"remote_addr": r.RemoteAddr,
	})

	// Start ping ticker to keep connection alive
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(ctx); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Message handling loop
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.log().Error("WebSocket error", map[string]interface{}{
					"session_id": sessionID,
					"error":      err.Error(),
				})
			}
			break
		}

		response := h.HandleMessage(ctx, sessionID, data)
		if response == nil {
			continue
		}

		if err := wsjson.Write(ctx, conn, response); err != nil {
			h.log().Error("Failed to write response", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			break
		}
	}

	h.log().Info("WebSocket session closed", map[string]interface{}{"session_id": sessionID})
}
