package webchat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

// wsConn is the write side of a websocket connection.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Principal is the authenticated user behind a request or a connection.
type Principal struct {
	UserID int64
	Role   chat.Role
}

func (p Principal) IsAdmin() bool { return p.Role == chat.RoleAdmin }

// client is one websocket connection. Writes go through a bounded queue drained
// by a single writer goroutine, so fan-out never blocks on a slow peer.
type client struct {
	id           string
	principal    Principal
	conn         wsConn
	send         chan []byte
	writeTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn wsConn, p Principal, sendBuffer int, writeTimeout time.Duration) *client {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &client{
		id:           uuid.NewString(),
		principal:    p,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// enqueue queues data without blocking. It reports false when the client is
// closed or its queue is full.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
