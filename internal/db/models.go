package db

import (
	"time"
)

// Leak event severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Leak event statuses
const (
	LeakStatusPending  = "pending"
	LeakStatusResolved = "resolved"
)

// Sensor represents a provisioned flow sensor
type Sensor struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	MaxThreshold float64   `json:"maxThreshold"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Reading represents one flow-rate sample. Append-only.
type Reading struct {
	ID        int64     `json:"id"`
	SensorID  int64     `json:"sensorId"`
	FlowRate  float64   `json:"flowRate"`
	Timestamp time.Time `json:"timestamp"`
}

// LeakEvent is open (pending) until resolved exactly once
type LeakEvent struct {
	ID         int64      `json:"id"`
	SensorID   int64      `json:"sensorId"`
	DetectedAt time.Time  `json:"detectedAt"`
	ResolvedAt *time.Time `json:"resolvedAt"`
	Severity   string     `json:"severity"`
	Status     string     `json:"status"`
	FlowRate   float64    `json:"flowRate"`
	ResolvedBy *string    `json:"resolvedBy"`
}

// IsPending reports whether the event is still open
func (e *LeakEvent) IsPending() bool {
	return e.Status == LeakStatusPending
}

// ValveState is one row of the append-only valve history
type ValveState struct {
	ID        int64     `json:"id"`
	IsOpen    bool      `json:"isOpen"`
	ChangedBy *string   `json:"changedBy"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemSettings is one row of the append-only settings history
type SystemSettings struct {
	ID                      int64     `json:"id"`
	ContinuousFlowThreshold int       `json:"continuousFlowThreshold"`
	NightFlowMonitoring     bool      `json:"nightFlowMonitoring"`
	UpdatedAt               time.Time `json:"updatedAt"`
	UpdatedBy               *string   `json:"updatedBy"`
}

// SensorThreshold is a single threshold change
type SensorThreshold struct {
	SensorID     int64
	MaxThreshold float64
}

// ValidSeverity reports whether s is a known severity
func ValidSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}
