package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/omer3110/livecart-service/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
	sendBufferSize = 32
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("outbound buffer full")
)

// client adapts one websocket connection to session.Conn. All writes go
// through the buffered send channel and a single writer goroutine; Send
// never blocks the session loop.
type client struct {
	conn *websocket.Conn
	send chan session.Event

	closeOnce   sync.Once
	closed      chan struct{}
	closeReason string
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:   conn,
		send:   make(chan session.Event, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *client) Send(ev session.Event) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.send <- ev:
		return nil
	default:
		return errSlowConsumer
	}
}

// Close signals the writer to send a close frame and tear the
// connection down. Safe to call from any goroutine, any number of
// times; it never blocks.
func (c *client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.closed)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.Close("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close("ping failed")
				return
			}
		case <-c.closed:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}
