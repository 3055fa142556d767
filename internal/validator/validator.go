package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/tools/timeparser"
)

// RawReading is a reading as delivered by the queue or a device bridge
type RawReading struct {
	RequestID string          `json:"requestId"`
	SensorID  int64           `json:"sensorId"`
	FlowRate  json.RawMessage `json:"flowRate"`
	Timestamp string          `json:"timestamp"`
}

// Validator checks inbound values before they reach storage
type Validator struct {
	timestampTolerance time.Duration
}

// NewValidator creates a new validator with the specified device clock tolerance
func NewValidator(timestampTolerance time.Duration) *Validator {
	return &Validator{
		timestampTolerance: timestampTolerance,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperr.ErrValidation)
}

// ValidateFlowRate rejects negative and non-finite flow rates
func (v *Validator) ValidateFlowRate(flowRate float64) error {
	if math.IsNaN(flowRate) || math.IsInf(flowRate, 0) {
		return invalid("flow rate must be a finite number")
	}
	if flowRate < 0 {
		return invalid("negative flow rate %.2f", flowRate)
	}
	return nil
}

// ValidateSensorID rejects non-positive ids
func (v *Validator) ValidateSensorID(id int64) error {
	if id <= 0 {
		return invalid("sensor id must be positive")
	}
	return nil
}

// ValidateLeakID rejects non-positive ids
func (v *Validator) ValidateLeakID(id int64) error {
	if id <= 0 {
		return invalid("leak id must be positive")
	}
	return nil
}

// ValidateThreshold rejects non-positive and non-finite maximums
func (v *Validator) ValidateThreshold(maxThreshold float64) error {
	if math.IsNaN(maxThreshold) || math.IsInf(maxThreshold, 0) || maxThreshold <= 0 {
		return invalid("max threshold must be a positive number")
	}
	return nil
}

// ValidateContinuousFlow requires at least one minute
func (v *Validator) ValidateContinuousFlow(minutes int) error {
	if minutes < 1 {
		return invalid("continuous flow threshold must be at least 1 minute")
	}
	return nil
}

// NormalizeSeverity defaults an empty severity to medium
func (v *Validator) NormalizeSeverity(severity string) (string, error) {
	if severity == "" {
		return db.SeverityMedium, nil
	}
	if !db.ValidSeverity(severity) {
		return "", invalid("unknown severity %q", severity)
	}
	return severity, nil
}

// ValidateRawReading parses and checks a queued reading. A missing
// timestamp means receivedAt.
func (v *Validator) ValidateRawReading(raw RawReading, receivedAt time.Time) (float64, time.Time, error) {
	if err := v.ValidateSensorID(raw.SensorID); err != nil {
		return 0, time.Time{}, err
	}

	// Accepts 1.5, "1.5" and "[1.5]"
	dataValue := strings.Trim(strings.TrimSpace(string(raw.FlowRate)), `"[]`)
	if dataValue == "" {
		return 0, time.Time{}, invalid("missing flow rate")
	}
	value, err := strconv.ParseFloat(dataValue, 64)
	if err != nil {
		return 0, time.Time{}, invalid("invalid flow rate: %v", err)
	}
	if err := v.ValidateFlowRate(value); err != nil {
		return value, time.Time{}, err
	}

	if raw.Timestamp == "" {
		return value, receivedAt, nil
	}

	readingTime, err := timeparser.ParseReadingTimestamp(raw.Timestamp)
	if err != nil {
		return value, time.Time{}, invalid("invalid timestamp format: %v", err)
	}

	if !timeparser.IsWithinTolerance(readingTime, receivedAt, v.timestampTolerance) {
		return value, readingTime, invalid("timestamp outside tolerance window (±%s)", v.timestampTolerance)
	}

	return value, readingTime, nil
}
