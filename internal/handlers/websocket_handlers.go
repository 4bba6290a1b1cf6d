package handlers

import (
	"net/http"

	"chat-relay/internal/ws"
	"chat-relay/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	gateway  *ws.Gateway
	upgrader websocket.Upgrader
}

func NewWebSocketHandlers(gateway *ws.Gateway) *WebSocketHandlers {
	return &WebSocketHandlers{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleWebSocket upgrades the connection and hands it to the gateway.
// Authentication happens in-band through the login frame.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	h.gateway.HandleConn(conn)
}
