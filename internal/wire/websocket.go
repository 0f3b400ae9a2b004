package wire

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsWriteWait bounds one frame write toward a slow peer.
const wsWriteWait = 10 * time.Second

// wsWire adapts a websocket connection. gorilla connections allow one
// concurrent writer; the mutex serializes fan-out broadcasts and
// gateway acknowledgements onto the same conn.
type wsWire struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

// NewWS wraps an upgraded websocket connection as a Wire.
func NewWS(conn *websocket.Conn) Wire {
	return &wsWire{conn: conn}
}

func (w *wsWire) SendText(data []byte) error {
	return w.write(websocket.TextMessage, data)
}

func (w *wsWire) SendBinary(data []byte) error {
	return w.write(websocket.BinaryMessage, data)
}

func (w *wsWire) write(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(messageType, data)
}

// Close sends a close frame and tears the connection down, unblocking
// the peer's read loop.
func (w *wsWire) Close() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	deadline := time.Now().Add(wsWriteWait)
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return w.conn.Close()
}
