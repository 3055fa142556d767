package mqttclient

import (
	"context"
	"errors"
	"testing"

	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/validator"
	"go.uber.org/zap"
)

type captureIngester struct {
	source string
	got    []validator.RawReading
}

func (c *captureIngester) IngestReading(ctx context.Context, source string, raw validator.RawReading) error {
	c.source = source
	c.got = append(c.got, raw)
	return nil
}

func TestSensorFromTopic(t *testing.T) {
	id, err := SensorFromTopic("flow/sensors/3/reading")
	if err != nil || id != 3 {
		t.Errorf("Expected 3, got %d (%v)", id, err)
	}
	if _, err := SensorFromTopic("flow/sensors/abc/reading"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
	if _, err := SensorFromTopic("flow/readings"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestDecodeMessage(t *testing.T) {
	raw, err := DecodeMessage("flow/sensors/2/reading", []byte(`{"flowRate":1.75}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if raw.SensorID != 2 || string(raw.FlowRate) != "1.75" {
		t.Errorf("Expected sensor 2 flow 1.75, got %+v", raw)
	}

	raw, err = DecodeMessage("flow/sensors/2/reading", []byte(`{"sensorId":1,"flowRate":"4.2"}`))
	if err != nil || raw.SensorID != 1 {
		t.Errorf("Expected payload sensor id to win, got %+v (%v)", raw, err)
	}

	if _, err := DecodeMessage("flow/sensors/2/reading", []byte(`not json`)); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestHandle_ForwardsToIngester(t *testing.T) {
	ingest := &captureIngester{}
	b := &Bridge{opts: Options{Source: "mqtt"}, ingest: ingest, logger: zap.NewNop()}

	b.handle("flow/sensors/1/reading", []byte(`{"flowRate":4.0}`))
	b.handle("flow/sensors/x/reading", []byte(`{"flowRate":4.0}`))

	if len(ingest.got) != 1 {
		t.Fatalf("Expected 1 forwarded reading, got %d", len(ingest.got))
	}
	if ingest.source != "mqtt" || ingest.got[0].SensorID != 1 {
		t.Errorf("Expected sensor 1 from mqtt, got %s %+v", ingest.source, ingest.got[0])
	}
}
