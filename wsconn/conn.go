package wsconn

import (
	"github.com/gorilla/websocket"
)

// Frame is the capability SessionLoop needs from a connection: send binary,
// send text, receive the next frame, close. Keeping it an interface lets
// unit tests substitute an in-memory fake frame source instead of a live
// socket.
type Frame interface {
	SendBinary(payload []byte) error
	SendText(payload []byte) error
	ReadMessage() (messageType int, payload []byte, err error)
	Close() error
}

// Connection adapts a *websocket.Conn to Frame.
type Connection struct {
	ws *websocket.Conn
}

// NewConnection wraps an upgraded WebSocket connection.
func NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{ws: ws}
}

// SendBinary writes a binary frame. Implements rooms.Sink.
func (c *Connection) SendBinary(payload []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, payload)
}

// SendText writes a text frame, used only for the diagnostic echo path.
func (c *Connection) SendText(payload []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and closes the underlying connection. Errors
// are for the caller to log, never to propagate further.
func (c *Connection) Close() error {
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

// ReadMessage reads the next frame from the underlying connection.
func (c *Connection) ReadMessage() (int, []byte, error) { return c.ws.ReadMessage() }

// RemoteAddr returns the remote address string, used only for logging.
func (c *Connection) RemoteAddr() string { return c.ws.RemoteAddr().String() }

var _ Frame = (*Connection)(nil)
