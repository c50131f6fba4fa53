package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from arbitrary origins in this deployment model;
	// authentication happens upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler returns the HTTP handler that upgrades dashboard connections.
// Clients pick additional channels with ?channels=device:WL-01,location:7;
// the global notifications channel is always delivered.
func (h *Hub) Handler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		var channels []string
		if raw := r.URL.Query().Get("channels"); raw != "" {
			channels = strings.Split(raw, ",")
		}

		client := newClient(h, conn, channels)
		h.register <- client

		go client.writePump()
		go client.readPump()
	}
}
