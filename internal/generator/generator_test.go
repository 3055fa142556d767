package generator_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/generator"
	"go.uber.org/zap"
)

type fakeSource struct {
	sensors []db.Sensor
	open    bool
}

func (f *fakeSource) ListSensors(ctx context.Context) ([]db.Sensor, error) {
	return f.sensors, nil
}

func (f *fakeSource) CurrentValve(ctx context.Context) (*db.ValveState, error) {
	return &db.ValveState{IsOpen: f.open}, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	readings map[int64][]float64
	failFor  int64
}

func (f *fakeRecorder) RecordReading(ctx context.Context, source string, sensorID int64, flowRate float64, at time.Time) (*db.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sensorID == f.failFor {
		return nil, errors.New("insert failed")
	}
	if f.readings == nil {
		f.readings = map[int64][]float64{}
	}
	f.readings[sensorID] = append(f.readings[sensorID], flowRate)
	return &db.Reading{SensorID: sensorID, FlowRate: flowRate, Timestamp: at}, nil
}

func (f *fakeRecorder) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.readings {
		n += len(r)
	}
	return n
}

func stockSensors() []db.Sensor {
	return []db.Sensor{
		{ID: 1, Name: "Sensor 1", Location: "Main Inlet", MaxThreshold: 8.5},
		{ID: 2, Name: "Sensor 2", Location: "Kitchen Branch", MaxThreshold: 4.2},
		{ID: 3, Name: "Sensor 3", Location: "Bathroom Branch", MaxThreshold: 5.8},
	}
}

func newGenerator(src *fakeSource, rec *fakeRecorder, leakProbability float64) *generator.Generator {
	return generator.New(src, rec, generator.Config{
		Interval:        10 * time.Millisecond,
		LeakProbability: leakProbability,
		Source:          rand.NewPCG(1, 2),
	}, zap.NewNop())
}

func TestSample_OpenValveStaysNearBase(t *testing.T) {
	g := newGenerator(&fakeSource{}, &fakeRecorder{}, 0)
	bases := map[int64]float64{1: 4.0, 2: 1.5, 3: 2.2}

	for _, s := range stockSensors() {
		for i := 0; i < 200; i++ {
			flow := g.Sample(s, true)
			if flow < bases[s.ID]-0.3 || flow > bases[s.ID]+0.3 {
				t.Fatalf("Expected sensor %d flow within %.1f±0.3, got %f", s.ID, bases[s.ID], flow)
			}
		}
	}
}

func TestSample_ClosedValveNeverLeaks(t *testing.T) {
	g := newGenerator(&fakeSource{}, &fakeRecorder{}, 1)
	sensor := stockSensors()[0]

	for i := 0; i < 200; i++ {
		flow := g.Sample(sensor, false)
		if flow < 0 || flow > generator.ClosedValveFlow+0.3 {
			t.Fatalf("Expected closed flow within [0, 0.4], got %f", flow)
		}
	}
}

func TestSample_LeakOverride(t *testing.T) {
	g := newGenerator(&fakeSource{}, &fakeRecorder{}, 1)
	sensor := stockSensors()[1]

	for i := 0; i < 100; i++ {
		flow := g.Sample(sensor, true)
		if flow < sensor.MaxThreshold+1 || flow >= sensor.MaxThreshold+2 {
			t.Fatalf("Expected leak flow in [%.1f, %.1f), got %f", sensor.MaxThreshold+1, sensor.MaxThreshold+2, flow)
		}
	}
}

func TestSample_ConfiguredBaseFlow(t *testing.T) {
	g := generator.New(&fakeSource{}, &fakeRecorder{}, generator.Config{
		BaseFlows: map[string]float64{"Garden": 10},
		Source:    rand.NewPCG(3, 4),
	}, zap.NewNop())

	flow := g.Sample(db.Sensor{ID: 9, Name: "Garden", MaxThreshold: 20}, true)
	if flow < 9.7 || flow > 10.3 {
		t.Errorf("Expected flow near configured base 10, got %f", flow)
	}
}

func TestTick_OneReadingPerSensorAndFailureIsolated(t *testing.T) {
	src := &fakeSource{sensors: stockSensors(), open: true}
	rec := &fakeRecorder{failFor: 2}
	g := newGenerator(src, rec, 0)

	g.Tick(context.Background())

	if len(rec.readings[1]) != 1 || len(rec.readings[3]) != 1 {
		t.Errorf("Expected one reading for sensors 1 and 3, got %v", rec.readings)
	}
	if len(rec.readings[2]) != 0 {
		t.Errorf("Expected no reading for failing sensor, got %v", rec.readings[2])
	}
}

func TestStartStop(t *testing.T) {
	src := &fakeSource{sensors: stockSensors(), open: true}
	rec := &fakeRecorder{}
	g := newGenerator(src, rec, 0)

	g.Start()
	g.Start()
	if !g.Running() {
		t.Fatal("Expected generator to be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.total() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	g.Stop()
	g.Stop()

	if rec.total() < 3 {
		t.Fatalf("Expected at least one full tick, got %d readings", rec.total())
	}
	if g.Running() {
		t.Error("Expected generator to be stopped")
	}

	after := rec.total()
	time.Sleep(50 * time.Millisecond)
	if rec.total() != after {
		t.Errorf("Expected no readings after stop, got %d more", rec.total()-after)
	}
}
