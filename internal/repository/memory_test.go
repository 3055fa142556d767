package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/repository"
)

func seededStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	err := store.Seed(context.Background(), repository.Seed{
		Sensors: []repository.SeedSensor{
			{Name: "Main Inlet", Location: "Main Water Line", MaxThreshold: 8.5},
			{Name: "Kitchen Branch", Location: "Kitchen", MaxThreshold: 4.2},
		},
		ContinuousFlowThreshold: 30,
		NightFlowMonitoring:     true,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return store
}

func TestMemoryStore_Seed(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)

	sensors, _ := store.ListSensors(ctx)
	if len(sensors) != 2 {
		t.Fatalf("Expected 2 sensors, got %d", len(sensors))
	}
	if sensors[0].ID != 1 || sensors[0].Name != "Main Inlet" {
		t.Errorf("Expected sensor 1 Main Inlet, got %d %s", sensors[0].ID, sensors[0].Name)
	}

	valve, _ := store.CurrentValveState(ctx)
	if valve == nil || !valve.IsOpen {
		t.Error("Expected seeded valve to be open")
	}

	settings, _ := store.CurrentSettings(ctx)
	if settings == nil || settings.ContinuousFlowThreshold != 30 || !settings.NightFlowMonitoring {
		t.Errorf("Expected default settings, got %+v", settings)
	}

	// a second seed is a no-op
	if err := store.Seed(ctx, repository.Seed{Sensors: []repository.SeedSensor{{Name: "x"}}}); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}
	sensors, _ = store.ListSensors(ctx)
	if len(sensors) != 2 {
		t.Errorf("Expected seed to be skipped, got %d sensors", len(sensors))
	}
}

func TestMemoryStore_GetSensorNotFound(t *testing.T) {
	store := seededStore(t)
	_, err := store.GetSensor(context.Background(), 99)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_OnePendingLeakPerSensor(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)

	first := &db.LeakEvent{SensorID: 1, DetectedAt: time.Now(), Severity: db.SeverityHigh, FlowRate: 13.5}
	if err := store.InsertLeakEvent(ctx, first); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if first.ID == 0 || first.Status != db.LeakStatusPending {
		t.Errorf("Expected stored pending event with id, got %+v", first)
	}

	second := &db.LeakEvent{SensorID: 1, DetectedAt: time.Now(), Severity: db.SeverityMedium, FlowRate: 9}
	if err := store.InsertLeakEvent(ctx, second); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	other := &db.LeakEvent{SensorID: 2, DetectedAt: time.Now(), Severity: db.SeverityMedium, FlowRate: 5}
	if err := store.InsertLeakEvent(ctx, other); err != nil {
		t.Errorf("Expected other sensor insert to succeed, got %v", err)
	}
}

func TestMemoryStore_MarkLeakResolvedOnce(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)

	event := &db.LeakEvent{SensorID: 1, DetectedAt: time.Now(), Severity: db.SeverityHigh, FlowRate: 13.5}
	_ = store.InsertLeakEvent(ctx, event)

	actor := "operator"
	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	resolved, err := store.MarkLeakResolved(ctx, event.ID, t1, &actor)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Status != db.LeakStatusResolved || resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(t1) {
		t.Errorf("Expected resolved at %v, got %+v", t1, resolved)
	}

	again, err := store.MarkLeakResolved(ctx, event.ID, t1.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if !again.ResolvedAt.Equal(t1) || again.ResolvedBy == nil || *again.ResolvedBy != actor {
		t.Errorf("Expected resolution fields unchanged, got %+v", again)
	}

	pending, _ := store.FindPendingLeak(ctx, 1)
	if pending != nil {
		t.Errorf("Expected no pending leak, got %+v", pending)
	}

	if _, err := store.MarkLeakResolved(ctx, 999, t1, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListReadingsWindow(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, _ = store.InsertReading(ctx, 1, 3.0, now.Add(-2*time.Hour))
	_, _ = store.InsertReading(ctx, 1, 3.5, now.Add(-30*time.Minute))
	_, _ = store.InsertReading(ctx, 2, 1.2, now.Add(-10*time.Minute))

	readings, err := store.ListReadings(ctx, now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("Expected 2 readings, got %d", len(readings))
	}
	if readings[0].FlowRate != 3.5 {
		t.Errorf("Expected oldest reading first, got %f", readings[0].FlowRate)
	}
}

func TestMemoryStore_ApplyThresholdsAtomic(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)

	_, _, err := store.ApplyThresholds(ctx, []db.SensorThreshold{
		{SensorID: 1, MaxThreshold: 9.0},
		{SensorID: 42, MaxThreshold: 1.0},
	}, 45, false, nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	s, _ := store.GetSensor(ctx, 1)
	if s.MaxThreshold != 8.5 {
		t.Errorf("Expected threshold unchanged at 8.5, got %f", s.MaxThreshold)
	}

	updated, settings, err := store.ApplyThresholds(ctx, []db.SensorThreshold{{SensorID: 1, MaxThreshold: 9.0}}, 45, false, nil)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(updated) != 1 || updated[0].MaxThreshold != 9.0 {
		t.Errorf("Expected sensor 1 at 9.0, got %+v", updated)
	}
	if settings.ContinuousFlowThreshold != 45 || settings.NightFlowMonitoring {
		t.Errorf("Expected new settings row, got %+v", settings)
	}
}

func TestMemoryStore_ConcurrentSeedProvisionsOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seed := repository.Seed{
		Sensors: []repository.SeedSensor{
			{Name: "Main Inlet", Location: "Main Water Line", MaxThreshold: 8.5},
			{Name: "Kitchen Branch", Location: "Kitchen", MaxThreshold: 4.2},
			{Name: "Bathroom Branch", Location: "Bathroom", MaxThreshold: 5.8},
		},
		ContinuousFlowThreshold: 30,
		NightFlowMonitoring:     true,
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Seed(ctx, seed); err != nil {
				t.Errorf("seed failed: %v", err)
			}
		}()
	}
	wg.Wait()

	sensors, _ := store.ListSensors(ctx)
	if len(sensors) != 3 {
		t.Errorf("Expected 3 sensors, got %d", len(sensors))
	}
	for i, s := range sensors {
		if s.ID != int64(i+1) {
			t.Errorf("Expected sensor id %d, got %d", i+1, s.ID)
		}
	}
}
