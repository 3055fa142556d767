package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/septivank/water-flow-monitor/internal/db"
	"go.uber.org/zap"
)

func TestLeakDetected_FlattensEventAndLocation(t *testing.T) {
	payload := LeakDetected{
		LeakEvent: db.LeakEvent{
			ID:         7,
			SensorID:   1,
			DetectedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Severity:   db.SeverityHigh,
			Status:     db.LeakStatusPending,
			FlowRate:   13.5,
		},
		Location: "Main Inlet",
	}

	b, err := json.Marshal(Envelope{Type: TypeLeakDetected, Data: payload})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Type != "leakDetected" {
		t.Errorf("Expected type leakDetected, got %s", decoded.Type)
	}
	if decoded.Data["location"] != "Main Inlet" || decoded.Data["severity"] != "high" {
		t.Errorf("Expected flattened payload, got %v", decoded.Data)
	}
	if decoded.Data["resolvedAt"] != nil {
		t.Errorf("Expected null resolvedAt, got %v", decoded.Data["resolvedAt"])
	}
}

func TestUpdateThresholds_AcceptsStringAndNumber(t *testing.T) {
	raw := `{"sensors":[{"id":1,"maxThreshold":"9.25"},{"id":2,"maxThreshold":4}],"continuousFlow":45,"nightFlowMonitoring":false}`

	var cmd UpdateThresholds
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(cmd.Sensors) != 2 {
		t.Fatalf("Expected 2 sensors, got %d", len(cmd.Sensors))
	}
	if cmd.Sensors[0].MaxThreshold != 9.25 || cmd.Sensors[1].MaxThreshold != 4 {
		t.Errorf("Expected thresholds 9.25 and 4, got %v", cmd.Sensors)
	}
	if cmd.ContinuousFlow != 45 || cmd.NightFlowMonitoring {
		t.Errorf("Expected settings 45/false, got %d/%v", cmd.ContinuousFlow, cmd.NightFlowMonitoring)
	}
}

func TestDecimal_RejectsGarbage(t *testing.T) {
	var d Decimal
	if err := json.Unmarshal([]byte(`"abc"`), &d); err == nil {
		t.Error("Expected error for non-numeric decimal")
	}
}

func TestFanout_ContinuesAfterFailure(t *testing.T) {
	var delivered []string
	failing := PublisherFunc(func(ctx context.Context, e Envelope) error {
		return errors.New("broker down")
	})
	recording := PublisherFunc(func(ctx context.Context, e Envelope) error {
		delivered = append(delivered, e.Type)
		return nil
	})

	var failures int
	f := NewFanout(zap.NewNop(), failing, nil, recording)
	f.OnError(func(e Envelope, err error) {
		failures++
		if !strings.Contains(err.Error(), "broker down") {
			t.Errorf("Expected broker error, got %v", err)
		}
	})

	if err := f.Publish(context.Background(), Envelope{Type: TypeSensorReading}); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if len(delivered) != 1 || delivered[0] != TypeSensorReading {
		t.Errorf("Expected delivery to second publisher, got %v", delivered)
	}
	if failures != 1 {
		t.Errorf("Expected 1 failure, got %d", failures)
	}
}
