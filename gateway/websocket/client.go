package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/gateway"
	"github.com/c360/geogate/registry"
)

// client owns one upgraded connection. It is the registry.Handle for its
// id: whoever removes the id from the registry calls Close exactly once.
type client struct {
	id           string
	conn         *websocket.Conn
	connectedAt  time.Time
	writeTimeout time.Duration

	writeMu   sync.Mutex // gorilla allows one concurrent writer
	closeOnce sync.Once
	closed    atomic.Bool
}

func newClient(id string, conn *websocket.Conn, writeTimeout time.Duration) *client {
	return &client{
		id:           id,
		conn:         conn,
		connectedAt:  time.Now(),
		writeTimeout: writeTimeout,
	}
}

// send encodes v and writes it as one text frame.
func (c *client) send(v any) error {
	if c.closed.Load() {
		return errors.ErrAlreadyClosed
	}
	data, err := gateway.Encode(v)
	if err != nil {
		return errors.WrapInvalid(err, "client", "send", "encode envelope")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "client", "send", "write frame")
	}
	return nil
}

// Close sends a close frame carrying cause and closes the socket, which
// unblocks the pending read. Later calls return ErrAlreadyClosed.
func (c *client) Close(cause registry.Cause) error {
	err := errors.ErrAlreadyClosed
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		msg := websocket.FormatCloseMessage(closeCode(cause), string(cause))
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func closeCode(cause registry.Cause) int {
	switch cause {
	case registry.CauseShutdown:
		return websocket.CloseGoingAway
	case registry.CauseMessageTooBig:
		return websocket.CloseMessageTooBig
	case registry.CauseTransportError:
		return websocket.CloseInternalServerErr
	default:
		return websocket.CloseNormalClosure
	}
}
