package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/campustrack/busrelay/internal/relay"
)

var (
	// ErrSendQueueFull is returned by Send when the viewer is not draining
	// its queue; the relay then evicts the connection.
	ErrSendQueueFull = errors.New("ws: send queue full")
	// ErrClientClosed is returned by Send after Close.
	ErrClientClosed = errors.New("ws: client closed")
)

// client is the relay.Sink of one websocket connection. Frames are queued and
// written by writePump so that Send never touches the network.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, queueSize int) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// Send implements relay.Sink.
func (c *client) Send(u relay.LocationUpdate) error {
	data, err := encodeUpdate(u)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close implements relay.Sink. It stops the writer, which closes the socket.
func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

var _ relay.Sink = (*client)(nil)
