package pubsub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/coder/websocket"
)

// WebSocketSink delivers payloads as text frames on one connection.
type WebSocketSink struct {
	Conn *websocket.Conn
}

func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{Conn: conn}
}

func (s *WebSocketSink) Send(ctx context.Context, payload []byte) error {
	return s.Conn.Write(ctx, websocket.MessageText, payload)
}

// ReadPump reads from the connection until the client goes away or ctx ends.
// Clients have nothing to say; reading keeps control frames flowing.
func ReadPump(ctx context.Context, conn *websocket.Conn, pollID string) {
	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}

		switch status := websocket.CloseStatus(err); {
		case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
			slog.Debug("client disconnected normally", "poll_id", pollID)
		case errors.Is(err, context.Canceled):
			slog.Debug("client read loop cancelled", "poll_id", pollID)
		default:
			slog.Debug("error reading from client", "poll_id", pollID, "error", err)
		}
		return
	}
}
