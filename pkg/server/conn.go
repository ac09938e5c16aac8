package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/auralab/go-aural/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound message size allowed
	maxMessageSize = 512 * 1024 // 512KB covers the largest audio buffers

	// sendQueueSize bounds the outbound queue. When it fills, the
	// pipeline blocks until the socket drains.
	sendQueueSize = 256
)

// ErrConnClosed is returned when sending on a torn-down connection.
var ErrConnClosed = errors.New("server: connection closed")

type outbound struct {
	wsType int
	data   []byte
}

// conn wraps one websocket connection. The pipeline emits from several
// goroutines, so all writes funnel through a single writer goroutine.
type conn struct {
	ws   *websocket.Conn
	send chan outbound
	done chan struct{}

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		send: make(chan outbound, sendQueueSize),
		done: make(chan struct{}),
	}
}

// SendMessage queues a control message as a websocket text frame.
func (c *conn) SendMessage(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return c.enqueue(outbound{wsType: websocket.TextMessage, data: data})
}

// SendAudio queues an audio frame as a websocket binary frame.
func (c *conn) SendAudio(frame protocol.AudioFrame) error {
	return c.enqueue(outbound{wsType: websocket.BinaryMessage, data: frame.Encode()})
}

func (c *conn) enqueue(m outbound) error {
	select {
	case c.send <- m:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump writes queued messages to the websocket connection.
// Only this goroutine writes to the connection - no race conditions!
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Unblock any pipeline goroutine parked in enqueue. Without
		// this a write error would leave senders waiting forever once
		// the queue fills.
		c.close()
		c.ws.Close()
	}()

	for {
		select {
		case m := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(m.wsType, m.data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush anything already queued before the close frame.
			for {
				select {
				case m := <-c.send:
					c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.ws.WriteMessage(m.wsType, m.data); err != nil {
						return
					}
				default:
					c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					c.ws.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}
