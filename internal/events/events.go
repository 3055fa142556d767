package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/septivank/water-flow-monitor/internal/db"
)

// Server to client event types
const (
	TypeConnected          = "connected"
	TypeSensorReading      = "sensorReading"
	TypeValveStatusChanged = "valveStatusChanged"
	TypeLeakDetected       = "leakDetected"
	TypeLeakResolved       = "leakResolved"
)

// Client to server command types
const (
	TypeToggleValve       = "toggleValve"
	TypeEmergencyShutdown = "emergencyShutdown"
	TypeResolveLeakEvent  = "resolveLeakEvent"
	TypeUpdateThresholds  = "updateThresholds"
)

// Envelope is the wire shape of every live channel message
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RawEnvelope is an inbound message whose payload is decoded per type
type RawEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Connected acknowledges a new live connection
type Connected struct {
	Timestamp time.Time `json:"timestamp"`
}

// LeakDetected is a new leak event annotated with the sensor location
type LeakDetected struct {
	db.LeakEvent
	Location string `json:"location"`
}

// ToggleValve requests a valve position
type ToggleValve struct {
	IsOpen bool `json:"isOpen"`
}

// ResolveLeak requests resolution of one leak event
type ResolveLeak struct {
	LeakID int64 `json:"leakId"`
}

// SensorThreshold is one entry of an UpdateThresholds command
type SensorThreshold struct {
	ID           int64   `json:"id"`
	MaxThreshold Decimal `json:"maxThreshold"`
}

// UpdateThresholds replaces sensor thresholds and system settings together
type UpdateThresholds struct {
	Sensors             []SensorThreshold `json:"sensors"`
	ContinuousFlow      int               `json:"continuousFlow"`
	NightFlowMonitoring bool              `json:"nightFlowMonitoring"`
}

// Publisher delivers an event to some audience
type Publisher interface {
	Publish(ctx context.Context, event Envelope) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, event Envelope) error

// Publish calls f
func (f PublisherFunc) Publish(ctx context.Context, event Envelope) error {
	return f(ctx, event)
}

// Decimal accepts both JSON numbers and numeric strings such as "8.50"
type Decimal float64

// UnmarshalJSON implements json.Unmarshaler
func (d *Decimal) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		return fmt.Errorf("empty decimal")
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", b, err)
	}
	*d = Decimal(v)
	return nil
}
