package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/events"
	"go.uber.org/zap"
)

// RoutingPrefix is prepended to every event type to form the routing key
const RoutingPrefix = "flow."

// Publisher mirrors domain events onto a topic exchange. It implements
// events.Publisher.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher opens a channel and declares the events exchange
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopicExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// RoutingKey returns the routing key for an event type, e.g. flow.leakDetected
func RoutingKey(eventType string) string {
	return RoutingPrefix + eventType
}

func buildPublishing(event events.Envelope, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         event.Type,
		Timestamp:    now,
	}, nil
}

// Publish implements events.Publisher
func (p *Publisher) Publish(ctx context.Context, event events.Envelope) error {
	msg, err := buildPublishing(event, time.Now().UTC())
	if err != nil {
		return err
	}
	key := RoutingKey(event.Type)

	p.mu.Lock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		key,
		false, // mandatory
		false, // immediate
		msg,
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w: %w", key, apperr.ErrTransientIO, err)
	}

	p.logger.Debug("published event",
		zap.String("routing_key", key),
		zap.String("message_id", msg.MessageId),
	)
	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
