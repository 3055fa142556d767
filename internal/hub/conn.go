package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// State is the lifecycle position of a live connection
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is a registered live connection
type Conn interface {
	ID() string
	State() State
	// Enqueue queues a message without blocking. It returns false when the
	// connection is not open or its queue is full.
	Enqueue(msg []byte) bool
	Close()
}

// Client is the server side of one websocket connection. Its state only
// moves forward: connecting, open, then closed, with error as a step
// before closed.
type Client struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	mu    sync.Mutex
	state State
	send  chan []byte
}

func newClient(id string, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		logger: logger,
		state:  StateConnecting,
		send:   make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// State returns the current state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) markOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateOpen
	return true
}

// Enqueue implements Conn
func (c *Client) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.state = StateError
		c.logger.Debug("live connection error", zap.Error(err))
	}
	c.mu.Unlock()
	c.Close()
}

// Close moves the connection to closed and stops the write pump
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	close(c.send)
}

// readPump delivers inbound frames to handle until the socket fails
func (c *Client) readPump(handle func(msg []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.fail(err)
				return
			}
			c.Close()
			return
		}
		handle(msg)
	}
}

// writePump sends one frame per queued message and keeps the socket alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}
		}
	}
}
