package leak

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/metrics"
	"go.uber.org/zap"
)

// Store is the subset of persistence the tracker needs
type Store interface {
	FindPendingLeak(ctx context.Context, sensorID int64) (*db.LeakEvent, error)
	LatestPendingLeak(ctx context.Context) (*db.LeakEvent, error)
	InsertLeakEvent(ctx context.Context, event *db.LeakEvent) error
	GetLeakEvent(ctx context.Context, id int64) (*db.LeakEvent, error)
	MarkLeakResolved(ctx context.Context, id int64, at time.Time, actor *string) (*db.LeakEvent, error)
}

// Tracker owns the leak event lifecycle. A sensor has at most one pending
// event; creation and resolution for one sensor are serialized.
type Tracker struct {
	store     Store
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker
func NewTracker(store Store, publisher events.Publisher, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		locks:     make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) sensorLock(sensorID int64) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[sensorID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[sensorID] = l
	}
	return l
}

// Postgres keeps microseconds
func (t *Tracker) timestamp() time.Time {
	return t.now().UTC().Truncate(time.Microsecond)
}

// Report records a detected leak. When the sensor already has a pending
// event nothing is created and that event is returned with created=false.
func (t *Tracker) Report(ctx context.Context, sensor db.Sensor, flowRate float64, severity string) (*db.LeakEvent, bool, error) {
	event, err := t.Open(ctx, sensor, flowRate, severity)
	if errors.Is(err, apperr.ErrConflict) {
		existing, ferr := t.store.FindPendingLeak(ctx, sensor.ID)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return event, true, nil
}

// Open creates a pending event and fails with apperr.ErrConflict when the
// sensor already has one
func (t *Tracker) Open(ctx context.Context, sensor db.Sensor, flowRate float64, severity string) (*db.LeakEvent, error) {
	lock := t.sensorLock(sensor.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := t.store.FindPendingLeak(ctx, sensor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending leak for sensor %d: %w", sensor.ID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("sensor %d has pending leak %d: %w", sensor.ID, existing.ID, apperr.ErrConflict)
	}

	event := &db.LeakEvent{
		SensorID:   sensor.ID,
		DetectedAt: t.timestamp(),
		Severity:   severity,
		Status:     db.LeakStatusPending,
		FlowRate:   flowRate,
	}
	// the store rejects a pending row created concurrently by another process
	if err := t.store.InsertLeakEvent(ctx, event); err != nil {
		return nil, err
	}

	metrics.IncLeakEvent("detected", event.Severity)
	t.logger.Warn("leak detected",
		zap.Int64("leak_id", event.ID),
		zap.Int64("sensor_id", sensor.ID),
		zap.String("location", sensor.Location),
		zap.String("severity", event.Severity),
		zap.Float64("flow_rate", flowRate),
	)

	t.publish(ctx, events.Envelope{
		Type: events.TypeLeakDetected,
		Data: events.LeakDetected{LeakEvent: *event, Location: sensor.Location},
	})
	return event, nil
}

// Resolve closes a pending event. Resolving an already resolved event
// returns it unchanged and publishes nothing.
func (t *Tracker) Resolve(ctx context.Context, id int64, actor *string) (*db.LeakEvent, error) {
	event, err := t.store.GetLeakEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !event.IsPending() {
		return event, nil
	}

	lock := t.sensorLock(event.SensorID)
	lock.Lock()
	defer lock.Unlock()

	at := t.timestamp()
	resolved, err := t.store.MarkLeakResolved(ctx, id, at, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve leak %d: %w", id, err)
	}
	if resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(at) {
		// resolved concurrently elsewhere
		return resolved, nil
	}

	metrics.IncLeakEvent("resolved", resolved.Severity)
	t.logger.Info("leak resolved",
		zap.Int64("leak_id", resolved.ID),
		zap.Int64("sensor_id", resolved.SensorID),
	)

	t.publish(ctx, events.Envelope{Type: events.TypeLeakResolved, Data: *resolved})
	return resolved, nil
}

// ActiveFor returns the pending event of a sensor, or nil
func (t *Tracker) ActiveFor(ctx context.Context, sensorID int64) (*db.LeakEvent, error) {
	return t.store.FindPendingLeak(ctx, sensorID)
}

// ActiveAny returns the most recently detected pending event, or nil
func (t *Tracker) ActiveAny(ctx context.Context) (*db.LeakEvent, error) {
	return t.store.LatestPendingLeak(ctx)
}

func (t *Tracker) publish(ctx context.Context, event events.Envelope) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, event); err != nil {
		t.logger.Warn("failed to publish leak event", zap.String("event_type", event.Type), zap.Error(err))
	}
}
