package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/db"
)

// MemoryStore keeps everything in process memory. It is used when no
// database is configured and as the store behind unit tests.
type MemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	sensors  []db.Sensor
	readings []db.Reading
	leaks    []db.LeakEvent
	valve    []db.ValveState
	settings []db.SystemSettings
	nextID   int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// AddSensor inserts a sensor and returns it with its id
func (m *MemoryStore) AddSensor(name, location string, maxThreshold float64) db.Sensor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addSensor(name, location, maxThreshold)
}

func (m *MemoryStore) addSensor(name, location string, maxThreshold float64) db.Sensor {
	s := db.Sensor{
		ID:           int64(len(m.sensors) + 1),
		Name:         name,
		Location:     location,
		MaxThreshold: maxThreshold,
		CreatedAt:    m.now(),
	}
	m.sensors = append(m.sensors, s)
	return s
}

// ListSensors returns all sensors ordered by id
func (m *MemoryStore) ListSensors(ctx context.Context) ([]db.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.Sensor, len(m.sensors))
	copy(out, m.sensors)
	return out, nil
}

func (m *MemoryStore) sensorIndex(id int64) int {
	for i := range m.sensors {
		if m.sensors[i].ID == id {
			return i
		}
	}
	return -1
}

// GetSensor returns one sensor
func (m *MemoryStore) GetSensor(ctx context.Context, id int64) (*db.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.sensorIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("sensor %d: %w", id, apperr.ErrNotFound)
	}
	s := m.sensors[i]
	return &s, nil
}

// UpdateSensorThreshold sets the max threshold of one sensor
func (m *MemoryStore) UpdateSensorThreshold(ctx context.Context, id int64, maxThreshold float64) (*db.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.sensorIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("sensor %d: %w", id, apperr.ErrNotFound)
	}
	m.sensors[i].MaxThreshold = maxThreshold
	s := m.sensors[i]
	return &s, nil
}

// InsertReading appends a flow reading
func (m *MemoryStore) InsertReading(ctx context.Context, sensorID int64, flowRate float64, at time.Time) (*db.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sensorIndex(sensorID) < 0 {
		return nil, fmt.Errorf("sensor %d: %w", sensorID, apperr.ErrNotFound)
	}
	r := db.Reading{ID: m.id(), SensorID: sensorID, FlowRate: flowRate, Timestamp: at}
	m.readings = append(m.readings, r)
	return &r, nil
}

// ListReadings returns readings with from <= timestamp <= to, oldest first
func (m *MemoryStore) ListReadings(ctx context.Context, from, to time.Time) ([]db.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.Reading, 0)
	for _, r := range m.readings {
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// FindPendingLeak returns the open event of a sensor, or nil
func (m *MemoryStore) FindPendingLeak(ctx context.Context, sensorID int64) (*db.LeakEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.leaks {
		if m.leaks[i].SensorID == sensorID && m.leaks[i].IsPending() {
			e := m.leaks[i]
			return &e, nil
		}
	}
	return nil, nil
}

// LatestPendingLeak returns the most recently detected open event, or nil
func (m *MemoryStore) LatestPendingLeak(ctx context.Context) (*db.LeakEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *db.LeakEvent
	for i := range m.leaks {
		e := m.leaks[i]
		if !e.IsPending() {
			continue
		}
		if latest == nil || !e.DetectedAt.Before(latest.DetectedAt) {
			latest = &e
		}
	}
	return latest, nil
}

// InsertLeakEvent stores a pending event
func (m *MemoryStore) InsertLeakEvent(ctx context.Context, event *db.LeakEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sensorIndex(event.SensorID) < 0 {
		return fmt.Errorf("sensor %d: %w", event.SensorID, apperr.ErrNotFound)
	}
	for i := range m.leaks {
		if m.leaks[i].SensorID == event.SensorID && m.leaks[i].IsPending() {
			return fmt.Errorf("sensor %d already has a pending leak event: %w", event.SensorID, apperr.ErrConflict)
		}
	}
	event.ID = m.id()
	event.Status = db.LeakStatusPending
	event.ResolvedAt = nil
	event.ResolvedBy = nil
	m.leaks = append(m.leaks, *event)
	return nil
}

func (m *MemoryStore) leakIndex(id int64) int {
	for i := range m.leaks {
		if m.leaks[i].ID == id {
			return i
		}
	}
	return -1
}

// GetLeakEvent returns one event by id
func (m *MemoryStore) GetLeakEvent(ctx context.Context, id int64) (*db.LeakEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.leakIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("leak event %d: %w", id, apperr.ErrNotFound)
	}
	e := m.leaks[i]
	return &e, nil
}

// MarkLeakResolved resolves a pending event once
func (m *MemoryStore) MarkLeakResolved(ctx context.Context, id int64, at time.Time, actor *string) (*db.LeakEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.leakIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("leak event %d: %w", id, apperr.ErrNotFound)
	}
	if m.leaks[i].IsPending() {
		resolvedAt := at
		m.leaks[i].Status = db.LeakStatusResolved
		m.leaks[i].ResolvedAt = &resolvedAt
		m.leaks[i].ResolvedBy = actor
	}
	e := m.leaks[i]
	return &e, nil
}

// ListLeakEvents returns all events, newest first
func (m *MemoryStore) ListLeakEvents(ctx context.Context) ([]db.LeakEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.LeakEvent, len(m.leaks))
	copy(out, m.leaks)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out, nil
}

// CurrentValveState returns the latest valve row, or nil
func (m *MemoryStore) CurrentValveState(ctx context.Context) (*db.ValveState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.valve) == 0 {
		return nil, nil
	}
	v := m.valve[len(m.valve)-1]
	return &v, nil
}

// InsertValveState appends a valve row
func (m *MemoryStore) InsertValveState(ctx context.Context, isOpen bool, actor *string) (*db.ValveState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := db.ValveState{ID: m.id(), IsOpen: isOpen, ChangedBy: actor, Timestamp: m.now()}
	m.valve = append(m.valve, v)
	return &v, nil
}

// CurrentSettings returns the latest settings row, or nil
func (m *MemoryStore) CurrentSettings(ctx context.Context) (*db.SystemSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.settings) == 0 {
		return nil, nil
	}
	s := m.settings[len(m.settings)-1]
	return &s, nil
}

// InsertSettings appends a settings row
func (m *MemoryStore) InsertSettings(ctx context.Context, continuousFlow int, nightFlow bool, actor *string) (*db.SystemSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSettings(continuousFlow, nightFlow, actor), nil
}

func (m *MemoryStore) insertSettings(continuousFlow int, nightFlow bool, actor *string) *db.SystemSettings {
	s := db.SystemSettings{
		ID:                      m.id(),
		ContinuousFlowThreshold: continuousFlow,
		NightFlowMonitoring:     nightFlow,
		UpdatedAt:               m.now(),
		UpdatedBy:               actor,
	}
	m.settings = append(m.settings, s)
	return &s
}

// ApplyThresholds updates sensor thresholds and appends a settings row. An
// unknown sensor leaves every row untouched.
func (m *MemoryStore) ApplyThresholds(ctx context.Context, thresholds []db.SensorThreshold, continuousFlow int, nightFlow bool, actor *string) ([]db.Sensor, *db.SystemSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range thresholds {
		if m.sensorIndex(t.SensorID) < 0 {
			return nil, nil, fmt.Errorf("sensor %d: %w", t.SensorID, apperr.ErrNotFound)
		}
	}
	updated := make([]db.Sensor, 0, len(thresholds))
	for _, t := range thresholds {
		i := m.sensorIndex(t.SensorID)
		m.sensors[i].MaxThreshold = t.MaxThreshold
		updated = append(updated, m.sensors[i])
	}
	return updated, m.insertSettings(continuousFlow, nightFlow, actor), nil
}

// Seed provisions rows when no sensors exist
func (m *MemoryStore) Seed(ctx context.Context, seed Seed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sensors) > 0 {
		return nil
	}

	for _, s := range seed.Sensors {
		m.addSensor(s.Name, s.Location, s.MaxThreshold)
	}
	m.valve = append(m.valve, db.ValveState{ID: m.id(), IsOpen: true, Timestamp: m.now()})
	m.insertSettings(seed.ContinuousFlowThreshold, seed.NightFlowMonitoring, nil)
	return nil
}
