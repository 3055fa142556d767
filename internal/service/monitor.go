package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/leak"
	"github.com/septivank/water-flow-monitor/internal/logging"
	"github.com/septivank/water-flow-monitor/internal/metrics"
	"github.com/septivank/water-flow-monitor/internal/repository"
	"github.com/septivank/water-flow-monitor/internal/threshold"
	"github.com/septivank/water-flow-monitor/internal/validator"
	"github.com/septivank/water-flow-monitor/tools/timeparser"
	"go.uber.org/zap"
)

// Reading sources
const (
	SourceGenerator = "generator"
	SourceAPI       = "api"
	SourceQueue     = "rabbitmq"
	SourceMQTT      = "mqtt"
)

// Monitor is the application layer shared by the generator, the live
// channel, the REST API and the ingest consumers
type Monitor struct {
	store     repository.Store
	tracker   *leak.Tracker
	evaluator *threshold.Evaluator
	validator *validator.Validator
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewMonitor creates a new monitor service
func NewMonitor(
	store repository.Store,
	tracker *leak.Tracker,
	evaluator *threshold.Evaluator,
	validator *validator.Validator,
	publisher events.Publisher,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		store:     store,
		tracker:   tracker,
		evaluator: evaluator,
		validator: validator,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// readings are stored with two decimals
func roundFlow(v float64) float64 {
	return math.Round(v*100) / 100
}

// RecordReading persists a reading, broadcasts it and runs leak detection.
// A failure after the reading is stored is logged and does not fail the call.
func (m *Monitor) RecordReading(ctx context.Context, source string, sensorID int64, flowRate float64, at time.Time) (*db.Reading, error) {
	if err := m.validator.ValidateSensorID(sensorID); err != nil {
		return nil, err
	}
	if err := m.validator.ValidateFlowRate(flowRate); err != nil {
		return nil, err
	}

	sensor, err := m.store.GetSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}

	flowRate = roundFlow(flowRate)
	if at.IsZero() {
		at = m.now()
	}

	reading, err := m.store.InsertReading(ctx, sensor.ID, flowRate, at.UTC().Truncate(time.Microsecond))
	if err != nil {
		return nil, fmt.Errorf("failed to store reading for sensor %d: %w", sensor.ID, err)
	}
	metrics.IncReading(source)

	m.publish(ctx, events.Envelope{Type: events.TypeSensorReading, Data: *reading})

	result := m.evaluator.Evaluate(flowRate, sensor.MaxThreshold)
	if result.Leak {
		if _, _, err := m.tracker.Report(ctx, *sensor, flowRate, result.Severity); err != nil {
			m.logger.Error("failed to report leak",
				zap.Int64("sensor_id", sensor.ID),
				zap.String("reason", result.Reason),
				zap.Error(err),
			)
		}
	}

	return reading, nil
}

// IngestMessage decodes a queued reading and records it
func (m *Monitor) IngestMessage(ctx context.Context, source string, body []byte) error {
	var raw validator.RawReading
	if err := json.Unmarshal(body, &raw); err != nil {
		metrics.IncIngest(source, metrics.ResultError)
		return fmt.Errorf("failed to unmarshal message: %v: %w", err, apperr.ErrValidation)
	}
	return m.IngestReading(ctx, source, raw)
}

// IngestReading validates and records a reading from a queue or device bridge
func (m *Monitor) IngestReading(ctx context.Context, source string, raw validator.RawReading) error {
	if raw.RequestID == "" {
		raw.RequestID = uuid.NewString()
	}
	reqLogger := logging.WithRequestID(m.logger, raw.RequestID)

	flowRate, at, err := m.validator.ValidateRawReading(raw, m.now())
	if err != nil {
		metrics.IncIngest(source, metrics.ResultError)
		reqLogger.Warn("rejected reading", zap.String("source", source), zap.Error(err))
		return err
	}

	reading, err := m.RecordReading(ctx, source, raw.SensorID, flowRate, at)
	if err != nil {
		metrics.IncIngest(source, metrics.ResultError)
		reqLogger.Error("failed to record reading", zap.String("source", source), zap.Error(err))
		return err
	}

	metrics.IncIngest(source, metrics.ResultSuccess)
	reqLogger.Debug("reading ingested",
		zap.String("source", source),
		zap.Int64("reading_id", reading.ID),
		zap.Int64("sensor_id", reading.SensorID),
	)
	return nil
}

// ToggleValve appends a valve state and broadcasts it
func (m *Monitor) ToggleValve(ctx context.Context, isOpen bool, actor *string) (*db.ValveState, error) {
	state, err := m.store.InsertValveState(ctx, isOpen, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to change valve: %w", err)
	}

	m.logger.Info("valve changed", zap.Bool("is_open", isOpen), zap.Stringp("actor", actor))
	m.publish(ctx, events.Envelope{Type: events.TypeValveStatusChanged, Data: *state})
	return state, nil
}

// EmergencyShutdown closes the valve
func (m *Monitor) EmergencyShutdown(ctx context.Context, actor *string) (*db.ValveState, error) {
	m.logger.Warn("emergency shutdown requested", zap.Stringp("actor", actor))
	return m.ToggleValve(ctx, false, actor)
}

// CurrentValve returns the latest valve state. No history means open.
func (m *Monitor) CurrentValve(ctx context.Context) (*db.ValveState, error) {
	state, err := m.store.CurrentValveState(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &db.ValveState{IsOpen: true}, nil
	}
	return state, nil
}

// ResolveLeak resolves a leak event on behalf of actor
func (m *Monitor) ResolveLeak(ctx context.Context, id int64, actor *string) (*db.LeakEvent, error) {
	if err := m.validator.ValidateLeakID(id); err != nil {
		return nil, err
	}
	return m.tracker.Resolve(ctx, id, actor)
}

// CreateLeakEvent opens a leak event manually. Severity defaults to medium.
func (m *Monitor) CreateLeakEvent(ctx context.Context, sensorID int64, flowRate float64, severity string) (*db.LeakEvent, error) {
	if err := m.validator.ValidateSensorID(sensorID); err != nil {
		return nil, err
	}
	if err := m.validator.ValidateFlowRate(flowRate); err != nil {
		return nil, err
	}
	severity, err := m.validator.NormalizeSeverity(severity)
	if err != nil {
		return nil, err
	}

	sensor, err := m.store.GetSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	return m.tracker.Open(ctx, *sensor, roundFlow(flowRate), severity)
}

// UpdateThresholds applies all sensor thresholds and a new settings row together
func (m *Monitor) UpdateThresholds(ctx context.Context, cmd events.UpdateThresholds, actor *string) ([]db.Sensor, *db.SystemSettings, error) {
	if err := m.validator.ValidateContinuousFlow(cmd.ContinuousFlow); err != nil {
		return nil, nil, err
	}
	thresholds := make([]db.SensorThreshold, 0, len(cmd.Sensors))
	for _, s := range cmd.Sensors {
		if err := m.validator.ValidateSensorID(s.ID); err != nil {
			return nil, nil, err
		}
		maxThreshold := float64(s.MaxThreshold)
		if err := m.validator.ValidateThreshold(maxThreshold); err != nil {
			return nil, nil, fmt.Errorf("sensor %d: %w", s.ID, err)
		}
		thresholds = append(thresholds, db.SensorThreshold{SensorID: s.ID, MaxThreshold: roundFlow(maxThreshold)})
	}

	sensors, settings, err := m.store.ApplyThresholds(ctx, thresholds, cmd.ContinuousFlow, cmd.NightFlowMonitoring, actor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update thresholds: %w", err)
	}

	m.logger.Info("thresholds updated",
		zap.Int("sensor_count", len(sensors)),
		zap.Int("continuous_flow", settings.ContinuousFlowThreshold),
		zap.Bool("night_flow_monitoring", settings.NightFlowMonitoring),
		zap.Stringp("actor", actor),
	)
	return sensors, settings, nil
}

// UpdateSensorThreshold changes one sensor's maximum
func (m *Monitor) UpdateSensorThreshold(ctx context.Context, sensorID int64, maxThreshold float64) (*db.Sensor, error) {
	if err := m.validator.ValidateThreshold(maxThreshold); err != nil {
		return nil, err
	}
	return m.store.UpdateSensorThreshold(ctx, sensorID, roundFlow(maxThreshold))
}

// UpdateSettings appends a settings row
func (m *Monitor) UpdateSettings(ctx context.Context, continuousFlow int, nightFlow bool, actor *string) (*db.SystemSettings, error) {
	if err := m.validator.ValidateContinuousFlow(continuousFlow); err != nil {
		return nil, err
	}
	return m.store.InsertSettings(ctx, continuousFlow, nightFlow, actor)
}

// ListSensors returns every sensor
func (m *Monitor) ListSensors(ctx context.Context) ([]db.Sensor, error) {
	return m.store.ListSensors(ctx)
}

// ListReadings returns readings inside the named history window, oldest first
func (m *Monitor) ListReadings(ctx context.Context, rangeToken string) ([]db.Reading, error) {
	now := m.now()
	return m.store.ListReadings(ctx, timeparser.WindowStart(rangeToken, now), now)
}

// ListLeakEvents returns every leak event, newest first
func (m *Monitor) ListLeakEvents(ctx context.Context) ([]db.LeakEvent, error) {
	return m.store.ListLeakEvents(ctx)
}

// ActiveLeak returns the newest pending leak event, or nil
func (m *Monitor) ActiveLeak(ctx context.Context) (*db.LeakEvent, error) {
	return m.tracker.ActiveAny(ctx)
}

// CurrentSettings returns the latest settings, or nil
func (m *Monitor) CurrentSettings(ctx context.Context) (*db.SystemSettings, error) {
	return m.store.CurrentSettings(ctx)
}

func (m *Monitor) publish(ctx context.Context, event events.Envelope) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish event", zap.String("event_type", event.Type), zap.Error(err))
	}
}
