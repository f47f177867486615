package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Conn serializes writes on a gorilla connection. Gorilla allows one concurrent
// writer, and both the event pump and the action loop write.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

// Wrap takes ownership of c.
func Wrap(c *websocket.Conn) *Conn {
	return &Conn{Conn: c}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(code, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// WriteSignal sends a payload-free event.
func (c *Conn) WriteSignal(e Event) error {
	return c.WriteTyped(SignalResponse{Event: e})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func (c *Conn) ReadJSON(v any) error {
	c.Conn.SetReadDeadline(time.Now().Add(readWait))
	return c.Conn.ReadJSON(v)
}

// CloseWith sends a close frame with code and reason, then closes the connection.
func (c *Conn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	_ = c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.Conn.Close()
}
