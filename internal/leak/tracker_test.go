package leak_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/leak"
	"github.com/septivank/water-flow-monitor/internal/repository"
	"github.com/septivank/water-flow-monitor/internal/threshold"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (r *recorder) Publish(ctx context.Context, e events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(eventType string) []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Envelope
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func setup(t *testing.T) (*leak.Tracker, *repository.MemoryStore, *recorder, db.Sensor) {
	t.Helper()
	store := repository.NewMemoryStore()
	sensor := store.AddSensor("Sensor 1", "Main Inlet", 8.5)
	rec := &recorder{}
	return leak.NewTracker(store, rec, zap.NewNop()), store, rec, sensor
}

func TestReport_CreatesPendingEventAndPublishes(t *testing.T) {
	tracker, _, rec, sensor := setup(t)

	event, created, err := tracker.Report(context.Background(), sensor, 13.5, db.SeverityHigh)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if !created {
		t.Error("Expected event to be created")
	}
	if event.Status != db.LeakStatusPending || event.ResolvedAt != nil {
		t.Errorf("Expected pending unresolved event, got %+v", event)
	}

	detected := rec.ofType(events.TypeLeakDetected)
	if len(detected) != 1 {
		t.Fatalf("Expected 1 leakDetected, got %d", len(detected))
	}
	payload, ok := detected[0].Data.(events.LeakDetected)
	if !ok {
		t.Fatalf("Expected LeakDetected payload, got %T", detected[0].Data)
	}
	if payload.Location != "Main Inlet" || payload.ID != event.ID {
		t.Errorf("Expected payload for event %d at Main Inlet, got %+v", event.ID, payload)
	}
}

func TestReport_DuplicateSuppressed(t *testing.T) {
	tracker, _, rec, sensor := setup(t)
	ctx := context.Background()

	first, _, _ := tracker.Report(ctx, sensor, 13.5, db.SeverityHigh)
	second, created, err := tracker.Report(ctx, sensor, 9.0, db.SeverityMedium)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if created {
		t.Error("Expected no new event while one is pending")
	}
	if second.ID != first.ID {
		t.Errorf("Expected existing event %d, got %d", first.ID, second.ID)
	}
	if n := len(rec.ofType(events.TypeLeakDetected)); n != 1 {
		t.Errorf("Expected 1 leakDetected, got %d", n)
	}
}

func TestReport_ConcurrentReportsCreateOneEvent(t *testing.T) {
	tracker, store, rec, sensor := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := tracker.Report(ctx, sensor, 12.0, db.SeverityMedium)
			if err != nil {
				t.Errorf("report failed: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("Expected exactly 1 created event, got %d", createdCount)
	}
	all, _ := store.ListLeakEvents(ctx)
	if len(all) != 1 {
		t.Errorf("Expected 1 stored event, got %d", len(all))
	}
	if n := len(rec.ofType(events.TypeLeakDetected)); n != 1 {
		t.Errorf("Expected 1 leakDetected, got %d", n)
	}
}

func TestOpen_ConflictWhenPending(t *testing.T) {
	tracker, _, _, sensor := setup(t)
	ctx := context.Background()

	if _, err := tracker.Open(ctx, sensor, 9.0, db.SeverityMedium); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := tracker.Open(ctx, sensor, 9.0, db.SeverityMedium); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestResolve_SetsTimestampOnceAndAllowsNewEvent(t *testing.T) {
	store := repository.NewMemoryStore()
	sensor := store.AddSensor("Sensor 1", "Main Inlet", 8.5)
	rec := &recorder{}

	clock := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	tracker := leak.NewTracker(store, rec, zap.NewNop(), leak.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	event, _, _ := tracker.Report(ctx, sensor, 13.5, db.SeverityHigh)

	clock = clock.Add(10 * time.Minute)
	actor := "operator"
	resolved, err := tracker.Resolve(ctx, event.ID, &actor)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Status != db.LeakStatusResolved {
		t.Errorf("Expected resolved status, got %s", resolved.Status)
	}
	if resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(clock) {
		t.Errorf("Expected resolvedAt %v, got %v", clock, resolved.ResolvedAt)
	}
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != actor {
		t.Errorf("Expected resolvedBy %s, got %v", actor, resolved.ResolvedBy)
	}
	if n := len(rec.ofType(events.TypeLeakResolved)); n != 1 {
		t.Errorf("Expected 1 leakResolved, got %d", n)
	}

	// re-resolve is a no-op
	firstResolvedAt := *resolved.ResolvedAt
	clock = clock.Add(time.Hour)
	again, err := tracker.Resolve(ctx, event.ID, nil)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if !again.ResolvedAt.Equal(firstResolvedAt) {
		t.Errorf("Expected resolvedAt unchanged at %v, got %v", firstResolvedAt, again.ResolvedAt)
	}
	if n := len(rec.ofType(events.TypeLeakResolved)); n != 1 {
		t.Errorf("Expected no extra leakResolved, got %d", n)
	}

	active, _ := tracker.ActiveFor(ctx, sensor.ID)
	if active != nil {
		t.Errorf("Expected no active leak, got %+v", active)
	}

	next, created, _ := tracker.Report(ctx, sensor, 9.5, db.SeverityMedium)
	if !created || next.ID == event.ID {
		t.Errorf("Expected a new event after resolution, got created=%v id=%d", created, next.ID)
	}
}

func TestResolve_UnknownID(t *testing.T) {
	tracker, _, _, _ := setup(t)

	if _, err := tracker.Resolve(context.Background(), 404, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestActiveAny_ReturnsMostRecent(t *testing.T) {
	store := repository.NewMemoryStore()
	s1 := store.AddSensor("Sensor 1", "Main Inlet", 8.5)
	s2 := store.AddSensor("Sensor 2", "Kitchen Branch", 4.2)

	clock := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	tracker := leak.NewTracker(store, nil, zap.NewNop(), leak.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	if active, _ := tracker.ActiveAny(ctx); active != nil {
		t.Errorf("Expected no active leak, got %+v", active)
	}

	_, _, _ = tracker.Report(ctx, s1, 9.0, db.SeverityMedium)
	clock = clock.Add(time.Minute)
	second, _, _ := tracker.Report(ctx, s2, 5.0, db.SeverityMedium)

	active, err := tracker.ActiveAny(ctx)
	if err != nil {
		t.Fatalf("active failed: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Errorf("Expected most recent event %d, got %+v", second.ID, active)
	}
}

// A sensor with threshold 8.5 reporting 13.5 gets one high event; a later
// 9.0 reading while it is pending creates nothing.
func TestThresholdScenario(t *testing.T) {
	tracker, store, rec, sensor := setup(t)
	evaluator := threshold.NewEvaluator(threshold.DefaultHighFactor)
	ctx := context.Background()

	for _, flow := range []float64{13.5, 9.0} {
		result := evaluator.Evaluate(flow, sensor.MaxThreshold)
		if !result.Leak {
			t.Fatalf("Expected %.1f to be a leak", flow)
		}
		if _, _, err := tracker.Report(ctx, sensor, flow, result.Severity); err != nil {
			t.Fatalf("report failed: %v", err)
		}
	}

	all, _ := store.ListLeakEvents(ctx)
	if len(all) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(all))
	}
	if all[0].Severity != db.SeverityHigh || all[0].FlowRate != 13.5 {
		t.Errorf("Expected high event at 13.5, got %s at %.2f", all[0].Severity, all[0].FlowRate)
	}
	if n := len(rec.ofType(events.TypeLeakDetected)); n != 1 {
		t.Errorf("Expected 1 leakDetected, got %d", n)
	}
}
