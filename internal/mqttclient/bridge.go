package mqttclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const ingestTimeout = 10 * time.Second

// Ingester records a reading published by a device
type Ingester interface {
	IngestReading(ctx context.Context, source string, raw validator.RawReading) error
}

// Options configures the broker connection
type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Source    string
}

// Bridge subscribes to device reading topics and forwards each message
// to an Ingester. Topics look like flow/sensors/{id}/reading.
type Bridge struct {
	raw    mqtt.Client
	opts   Options
	ingest Ingester
	logger *zap.Logger
}

// New creates a bridge. The broker is contacted on Start.
func New(opts Options, ingest Ingester, logger *zap.Logger) *Bridge {
	b := &Bridge{opts: opts, ingest: ingest, logger: logger}

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	o.SetAutoReconnect(true)
	o.SetOnConnectHandler(func(c mqtt.Client) {
		// subscriptions are lost on reconnect with a clean session
		if err := b.subscribe(c); err != nil {
			logger.Error("mqtt subscribe failed", zap.String("topic", opts.Topic), zap.Error(err))
		}
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	b.raw = mqtt.NewClient(o)
	return b
}

func (b *Bridge) subscribe(c mqtt.Client) error {
	token := c.Subscribe(b.opts.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		b.handle(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	b.logger.Info("mqtt bridge subscribed", zap.String("topic", b.opts.Topic))
	return nil
}

func (b *Bridge) handle(topic string, payload []byte) {
	raw, err := DecodeMessage(topic, payload)
	if err != nil {
		b.logger.Warn("dropping device message", zap.String("topic", topic), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	if err := b.ingest.IngestReading(ctx, b.opts.Source, raw); err != nil {
		b.logger.Warn("device reading rejected",
			zap.String("topic", topic),
			zap.Int64("sensor_id", raw.SensorID),
			zap.Error(err),
		)
	}
}

// DecodeMessage parses a device payload. A payload without sensorId takes
// it from the topic.
func DecodeMessage(topic string, payload []byte) (validator.RawReading, error) {
	var raw validator.RawReading
	if err := json.Unmarshal(payload, &raw); err != nil {
		return raw, fmt.Errorf("invalid payload: %v: %w", err, apperr.ErrValidation)
	}
	if raw.SensorID == 0 {
		id, err := SensorFromTopic(topic)
		if err != nil {
			return raw, err
		}
		raw.SensorID = id
	}
	return raw, nil
}

// SensorFromTopic extracts the id from flow/sensors/{id}/reading
func SensorFromTopic(topic string) (int64, error) {
	parts := strings.Split(topic, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] != "sensors" {
			continue
		}
		id, err := strconv.ParseInt(parts[i+1], 10, 64)
		if err != nil || id <= 0 {
			break
		}
		return id, nil
	}
	return 0, fmt.Errorf("no sensor id in topic %q: %w", topic, apperr.ErrValidation)
}

// Start connects to the broker. Subscription happens in the connect handler.
func (b *Bridge) Start() error {
	token := b.raw.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	b.logger.Info("mqtt bridge started", zap.String("broker", b.opts.BrokerURL))
	return nil
}

// Close disconnects from the broker
func (b *Bridge) Close() {
	b.raw.Disconnect(250)
}

// RegisterLifecycle ties the bridge to the fx app
func (b *Bridge) RegisterLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return b.Start()
		},
		OnStop: func(context.Context) error {
			b.Close()
			b.logger.Info("mqtt bridge stopped")
			return nil
		},
	})
}
