package repository

import (
	"context"
	"time"

	"github.com/septivank/water-flow-monitor/internal/db"
)

// Store is the persistence contract used by the pipeline. Lookups of unknown
// ids return an error wrapping apperr.ErrNotFound; "current" and "pending"
// lookups return nil with no error when nothing exists.
type Store interface {
	ListSensors(ctx context.Context) ([]db.Sensor, error)
	GetSensor(ctx context.Context, id int64) (*db.Sensor, error)
	UpdateSensorThreshold(ctx context.Context, id int64, maxThreshold float64) (*db.Sensor, error)

	InsertReading(ctx context.Context, sensorID int64, flowRate float64, at time.Time) (*db.Reading, error)
	ListReadings(ctx context.Context, from, to time.Time) ([]db.Reading, error)

	FindPendingLeak(ctx context.Context, sensorID int64) (*db.LeakEvent, error)
	LatestPendingLeak(ctx context.Context) (*db.LeakEvent, error)
	// InsertLeakEvent stores a new pending event and fills in its id. It
	// fails with apperr.ErrConflict when the sensor already has one.
	InsertLeakEvent(ctx context.Context, event *db.LeakEvent) error
	GetLeakEvent(ctx context.Context, id int64) (*db.LeakEvent, error)
	// MarkLeakResolved transitions a pending event. It returns the stored
	// row unchanged when the event is already resolved.
	MarkLeakResolved(ctx context.Context, id int64, at time.Time, actor *string) (*db.LeakEvent, error)
	ListLeakEvents(ctx context.Context) ([]db.LeakEvent, error)

	CurrentValveState(ctx context.Context) (*db.ValveState, error)
	InsertValveState(ctx context.Context, isOpen bool, actor *string) (*db.ValveState, error)

	CurrentSettings(ctx context.Context) (*db.SystemSettings, error)
	InsertSettings(ctx context.Context, continuousFlow int, nightFlow bool, actor *string) (*db.SystemSettings, error)
	// ApplyThresholds updates every sensor and appends a settings row atomically
	ApplyThresholds(ctx context.Context, thresholds []db.SensorThreshold, continuousFlow int, nightFlow bool, actor *string) ([]db.Sensor, *db.SystemSettings, error)
}

// Seed describes the rows written into an empty store
type Seed struct {
	Sensors                 []SeedSensor
	ContinuousFlowThreshold int
	NightFlowMonitoring     bool
}

// SeedSensor is one provisioned sensor
type SeedSensor struct {
	Name         string
	Location     string
	MaxThreshold float64
}

// Seeder provisions initial rows when the store is empty
type Seeder interface {
	Seed(ctx context.Context, seed Seed) error
}
