package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher mirrors domain events onto NATS subjects <prefix>.<type>
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewPublisher connects to url and drains the connection on fx stop
func NewPublisher(lc fx.Lifecycle, logger *zap.Logger, url, prefix, name string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	p := &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Close()
			logger.Info("nats connection closed")
			return nil
		},
	})
	return p, nil
}

// Subject returns the subject an event type is published on
func (p *Publisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish implements events.Publisher
func (p *Publisher) Publish(ctx context.Context, event events.Envelope) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w: %w", subject, apperr.ErrTransientIO, err)
	}
	return nil
}

// Close drains and closes the connection
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}
