package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/logging"
	"go.uber.org/zap"
)

const commandTimeout = 10 * time.Second

// ActorResolver identifies the operator behind an upgrade request
type ActorResolver interface {
	ActorFromRequest(r *http.Request) (string, error)
}

// Endpoint upgrades HTTP requests to live connections registered with a Hub
type Endpoint struct {
	hub        *Hub
	dispatcher *Dispatcher
	actors     ActorResolver
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewEndpoint creates the live channel handler. actors may be nil.
func NewEndpoint(hub *Hub, dispatcher *Dispatcher, actors ActorResolver, logger *zap.Logger) *Endpoint {
	return &Endpoint{
		hub:        hub,
		dispatcher: dispatcher,
		actors:     actors,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP runs one connection until it closes
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var actor *string
	if e.actors != nil {
		if name, err := e.actors.ActorFromRequest(r); err == nil {
			actor = &name
		}
	}

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("failed to upgrade live connection", zap.Error(err))
		return
	}

	id := uuid.NewString()
	logger := logging.WithConnID(e.logger, id)
	client := newClient(id, ws, logger)
	client.markOpen()

	ack, err := json.Marshal(events.Envelope{
		Type: events.TypeConnected,
		Data: events.Connected{Timestamp: time.Now().UTC()},
	})
	if err == nil {
		client.Enqueue(ack)
	}

	e.hub.Register(client)
	go client.writePump()

	client.readPump(func(msg []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := e.dispatcher.Dispatch(ctx, actor, msg); err != nil {
			logger.Warn("live command failed", zap.Error(err))
		}
	})

	e.hub.Unregister(client)
	client.Close()
}
