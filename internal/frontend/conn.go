// Package frontend implements the connection frontend (component F): it
// accepts websocket connections, drives the register/auth handshake, and
// owns the transport for every authenticated session afterward.
package frontend

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to session.Conn, serializing writes with
// its own mutex since gorilla/websocket forbids concurrent writers on one
// connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{conn: c}
}

func (w *wsConn) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// writeFrame writes an already-serialized frame. This is the delivery half
// of the bus path: the session's bus subscription hands settled frames here.
func (w *wsConn) writeFrame(frame []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("[FRONTEND] frame write failed: %v", err)
	}
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
