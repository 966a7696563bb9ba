package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

var errConnGone = errors.New("connection closed or backed up")

// Conn is one live client connection. It satisfies room.Sink: Send enqueues
// without blocking and reports failure so the multiplexer can drop us.
type Conn struct {
	id     string
	userID string
	sock   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(id, userID string, sock *websocket.Conn, sendBuffer int) *Conn {
	return &Conn{
		id:     id,
		userID: userID,
		sock:   sock,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Send enqueues a frame for the write pump. A closed or saturated
// connection errors instead of blocking the broadcaster.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errConnGone
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errConnGone
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// writePump owns all writes to the socket: queued frames plus keepalive
// pings. It exits when the connection closes either way.
func (c *Conn) writePump(pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()
	for {
		select {
		case <-c.closed:
			_ = c.sock.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case b := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.sock.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.sock.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				c.close()
				return
			}
		}
	}
}
