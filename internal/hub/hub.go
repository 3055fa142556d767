package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/metrics"
	"go.uber.org/zap"
)

// Hub is the set of live connections. Broadcasts never block on a slow
// or dead connection.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	logger *zap.Logger
}

// New creates an empty hub
func New(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]Conn),
		logger: logger,
	}
}

// Register adds a connection
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()

	metrics.SetLiveConnections(n)
	h.logger.Info("live client connected", zap.String("conn_id", c.ID()), zap.Int("clients", n))
}

// Unregister removes a connection. Unknown connections are ignored.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.ID()]
	delete(h.conns, c.ID())
	n := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.SetLiveConnections(n)
	h.logger.Info("live client disconnected", zap.String("conn_id", c.ID()), zap.Int("clients", n))
}

// Count returns the number of registered connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish serializes the event once and broadcasts it
func (h *Hub) Publish(ctx context.Context, event events.Envelope) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	h.Broadcast(msg)
	return nil
}

// Broadcast queues msg on every open connection and returns how many
// accepted it. Connections that cannot accept it are closed and removed.
func (h *Hub) Broadcast(msg []byte) int {
	h.mu.RLock()
	snapshot := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	delivered := 0
	var failed []Conn
	for _, c := range snapshot {
		if c.State() == StateOpen && c.Enqueue(msg) {
			delivered++
			continue
		}
		failed = append(failed, c)
	}

	for _, c := range failed {
		metrics.IncBroadcastDropped()
		h.logger.Warn("dropping live client after failed send",
			zap.String("conn_id", c.ID()),
			zap.Stringer("state", c.State()),
		)
		c.Close()
		h.Unregister(c)
	}
	return delivered
}

// CloseAll closes and removes every connection
func (h *Hub) CloseAll() {
	h.mu.Lock()
	snapshot := make([]Conn, 0, len(h.conns))
	for id, c := range h.conns {
		snapshot = append(snapshot, c)
		delete(h.conns, id)
	}
	h.mu.Unlock()

	for _, c := range snapshot {
		c.Close()
	}
	metrics.SetLiveConnections(0)
	h.logger.Info("closed live clients", zap.Int("clients", len(snapshot)))
}
