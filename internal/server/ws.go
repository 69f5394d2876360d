// Package server wires the HTTP router, the REST handlers and the two
// WebSocket surfaces: /ws for browsers and /internal/ws for sandbox
// containers.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cruciblehq/crucible/internal/config"
	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/hub"
)

const writeTimeout = 10 * time.Second

// conversationStore is the slice of the persistence layer both WebSocket
// endpoints read.
type conversationStore interface {
	GetConversation(ctx context.Context, id, userID string) (*domain.Conversation, error)
}

func newUpgrader(cfg config.ServerConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, o := range cfg.AllowedOrigins {
				if o == "*" {
					return true
				}
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return cfg.AllowEmptyOrigin
			}
			for _, allowed := range cfg.AllowedOrigins {
				if allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// wsWriter drains an outbox to the socket until the outbox closes or a write
// fails. Runs as the connection's single writer goroutine; the hub only ever
// touches the outbox.
func wsWriter(conn *websocket.Conn, outbox *hub.Outbox) {
	for {
		data, ok := outbox.Next()
		if !ok {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("ws: write error", "error", err)
			outbox.Close()
			return
		}
	}
}

func isExpectedClose(err error) bool {
	return !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived)
}
