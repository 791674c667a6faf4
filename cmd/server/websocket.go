// Package main is the entry point of the application
package main

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// newUpgrader accepts any origin when none are configured. Requests without an Origin header come from
// non-browser clients and are accepted.
func (app *application) newUpgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(app.Config.AllowedOrigins))
	for _, origin := range app.Config.AllowedOrigins {
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,

		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}

			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
}

// handleWebSocket handles WebSocket connections
func (app *application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	ws, err := app.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.Logger.Warn("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	conn := app.Hub.Serve(ws)

	app.Logger.Info("WebSocket connection established",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("connection_id", conn.ID().String()),
	)
}
