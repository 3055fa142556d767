package generator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// ClosedValveFlow is the residual flow reported while the valve is closed
	ClosedValveFlow = 0.1
	noiseAmplitude  = 0.3
	source          = "generator"
)

// SensorSource provides the sensors to sample and the current valve state
type SensorSource interface {
	ListSensors(ctx context.Context) ([]db.Sensor, error)
	CurrentValve(ctx context.Context) (*db.ValveState, error)
}

// Recorder takes a synthesized reading through the shared reading path
type Recorder interface {
	RecordReading(ctx context.Context, source string, sensorID int64, flowRate float64, at time.Time) (*db.Reading, error)
}

// Config holds generator settings
type Config struct {
	Interval        time.Duration
	LeakProbability float64
	// BaseFlows maps a sensor name to its open-valve flow
	BaseFlows map[string]float64
	// Source seeds the random stream. Nil means a random seed.
	Source rand.Source
}

// Generator synthesizes one reading per sensor on a fixed cadence
type Generator struct {
	sensors  SensorSource
	recorder Recorder
	cfg      Config
	logger   *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a generator
func New(sensors SensorSource, recorder Recorder, cfg Config, logger *zap.Logger) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	src := cfg.Source
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{
		sensors:  sensors,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		rng:      rand.New(src),
	}
}

// defaultBaseFlow keeps the stock installation's per-sensor profile
func defaultBaseFlow(sensorID int64) float64 {
	switch sensorID {
	case 1:
		return 4.0
	case 2:
		return 1.5
	default:
		return 2.2
	}
}

func (g *Generator) baseFlow(sensor db.Sensor) float64 {
	if v, ok := g.cfg.BaseFlows[sensor.Name]; ok && v > 0 {
		return v
	}
	return defaultBaseFlow(sensor.ID)
}

// Sample synthesizes one flow value for a sensor
func (g *Generator) Sample(sensor db.Sensor, valveOpen bool) float64 {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()

	base := ClosedValveFlow
	if valveOpen {
		base = g.baseFlow(sensor)
	}

	flow := base + (g.rng.Float64()*2*noiseAmplitude - noiseAmplitude)
	if flow < 0 {
		flow = 0
	}

	if g.rng.Float64() < g.cfg.LeakProbability && valveOpen {
		flow = sensor.MaxThreshold + 1 + g.rng.Float64()
	}
	return flow
}

// Tick produces one reading for every sensor. A failing sensor is logged
// and skipped.
func (g *Generator) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ObserveGeneratorTick(time.Since(start)) }()

	sensors, err := g.sensors.ListSensors(ctx)
	if err != nil {
		g.logger.Error("generator failed to list sensors", zap.Error(err))
		return
	}

	valve, err := g.sensors.CurrentValve(ctx)
	if err != nil {
		g.logger.Error("generator failed to read valve state", zap.Error(err))
		return
	}

	for _, sensor := range sensors {
		flow := g.Sample(sensor, valve.IsOpen)
		if _, err := g.recorder.RecordReading(ctx, source, sensor.ID, flow, time.Now()); err != nil {
			g.logger.Error("generator failed to record reading",
				zap.Int64("sensor_id", sensor.ID),
				zap.Float64("flow_rate", flow),
				zap.Error(err),
			)
		}
	}
}

// Start launches the background loop. Calling Start on a running generator does nothing.
func (g *Generator) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	g.running = true

	go g.run(ctx, g.done)

	g.logger.Info("reading generator started",
		zap.Duration("interval", g.cfg.Interval),
		zap.Float64("leak_probability", g.cfg.LeakProbability),
	)
}

func (g *Generator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the loop and waits for an in-flight tick to finish
func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	cancel, done := g.cancel, g.done
	g.running = false
	g.mu.Unlock()

	cancel()
	<-done
	g.logger.Info("reading generator stopped")
}

// Running reports whether the loop is active
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// RegisterLifecycle ties the generator to Fx start and stop
func (g *Generator) RegisterLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			g.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			g.Stop()
			return nil
		},
	})
}
