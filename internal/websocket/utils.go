package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// WriteTyped sends a strongly-typed payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}, deadline time.Time) error {
	conn.SetWriteDeadline(deadline)
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	}, time.Now().Add(10*time.Second))
}

// ReadJSON reads and decodes a message into the provided structure,
// failing once deadline passes.
func ReadJSON(conn *websocket.Conn, v interface{}, deadline time.Time) error {
	conn.SetReadDeadline(deadline)
	return conn.ReadJSON(v)
}
