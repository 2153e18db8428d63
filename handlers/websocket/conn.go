package websocket

import (
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Conn is the slice of a live transport session the coordinator needs. The
// indirection keeps presence and membership testable without a running
// Socket.IO server.
type Conn interface {
	ID() string
	Emit(event string, args ...any) error
}

type socketConn struct {
	socket *socketio.Socket
}

func (c socketConn) ID() string {
	return string(c.socket.Id())
}

func (c socketConn) Emit(event string, args ...any) error {
	return c.socket.Emit(event, args...)
}
