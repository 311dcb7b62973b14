package handlers

import (
	"net/http"

	"outreach-agent/internal/utils"
	"outreach-agent/internal/wsnotify"
)

// WebSocketHandler subscribes the caller to the live transition feed of m.
// Clients only receive; anything they send is discarded.
func WebSocketHandler(m *wsnotify.WebSocketManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsnotify.Upgrader().Upgrade(w, r, nil)
		if err != nil {
			utils.LogDebug("Falha no upgrade do websocket: %v", err)
			return
		}
		m.AddClient(conn)
		defer func() {
			m.RemoveClient(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}
