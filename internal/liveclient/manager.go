package liveclient

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/septivank/water-flow-monitor/internal/events"
	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed wait between a drop and the next attempt
const DefaultReconnectDelay = 5 * time.Second

const writeWait = 10 * time.Second

// Status mirrors the lifecycle of the underlying connection
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Option configures a Manager
type Option func(*Manager)

// WithReconnectDelay overrides DefaultReconnectDelay
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.delay = d
		}
	}
}

// WithHeader sets headers sent on every dial, e.g. Authorization
func WithHeader(h http.Header) Option {
	return func(m *Manager) { m.header = h }
}

// WithStatusListener registers fn for every status change
func WithStatusListener(fn func(Status)) Option {
	return func(m *Manager) { m.onStatus = fn }
}

// WithMessageListener registers fn for every decoded inbound message
func WithMessageListener(fn func(events.RawEnvelope)) Option {
	return func(m *Manager) { m.onMessage = fn }
}

// Manager keeps exactly one connection to the live channel open and
// reconnects after a fixed delay whenever it drops.
type Manager struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	delay     time.Duration
	logger    *zap.Logger
	onStatus  func(Status)
	onMessage func(events.RawEnvelope)

	mu     sync.Mutex
	conn   *websocket.Conn
	gen    uint64
	status Status
	last   *events.RawEnvelope
	timer  *time.Timer
	closed bool
}

// NewManager creates a manager for url. Call Connect to start it.
func NewManager(url string, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		url:    url,
		dialer: websocket.DefaultDialer,
		delay:  DefaultReconnectDelay,
		logger: logger,
		status: StatusClosed,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect drops any current connection and pending retry, then dials
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
	gen := m.gen
	m.status = StatusConnecting
	m.mu.Unlock()

	m.notify(StatusConnecting)
	go m.dial(gen)
}

func (m *Manager) dial(gen uint64) {
	conn, _, err := m.dialer.Dial(m.url, m.header)

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("live channel dial failed", zap.String("url", m.url), zap.Error(err))
		m.drop(gen, true)
		return
	}
	m.conn = conn
	m.status = StatusOpen
	m.mu.Unlock()

	m.logger.Info("live channel connected", zap.String("url", m.url))
	m.notify(StatusOpen)
	m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			failed := websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if failed {
				m.logger.Warn("live channel read failed", zap.Error(err))
			}
			m.drop(gen, failed)
			return
		}

		var env events.RawEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			m.logger.Warn("failed to parse live message", zap.Error(err))
			continue
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.last = &env
		m.mu.Unlock()

		if m.onMessage != nil {
			m.onMessage(env)
		}
	}
}

// drop handles the end of connection gen and schedules one retry
func (m *Manager) drop(gen uint64, failed bool) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.status = StatusClosed
	if failed {
		m.status = StatusError
	}
	m.timer = time.AfterFunc(m.delay, m.Connect)
	m.mu.Unlock()

	if failed {
		m.notify(StatusError)
		m.mu.Lock()
		if gen == m.gen && m.status == StatusError {
			m.status = StatusClosed
		}
		m.mu.Unlock()
	}
	m.notify(StatusClosed)
}

func (m *Manager) notify(s Status) {
	if m.onStatus != nil {
		m.onStatus(s)
	}
}

// Status returns the current connection status
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastMessage returns the most recent inbound message, or nil
func (m *Manager) LastMessage() *events.RawEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	env := *m.last
	return &env
}

// Send writes one envelope. It returns false unless the connection is open.
func (m *Manager) Send(msgType string, payload any) bool {
	msg, err := json.Marshal(events.Envelope{Type: msgType, Data: payload})
	if err != nil {
		m.logger.Warn("failed to marshal live message", zap.String("type", msgType), zap.Error(err))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusOpen || m.conn == nil {
		return false
	}
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := m.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		m.logger.Warn("live channel write failed", zap.Error(err))
		return false
	}
	return true
}

// Close stops the connection and any pending reconnect for good
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		m.conn.Close()
		m.conn = nil
	}
	m.status = StatusClosed
	m.mu.Unlock()

	m.notify(StatusClosed)
}
