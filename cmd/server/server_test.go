package main

import (
	"testing"

	"github.com/septivank/water-flow-monitor/internal/config"
)

func TestSeedFromConfig(t *testing.T) {
	cfg := &config.Config{Sensors: config.DefaultSensors()}
	seed := seedFromConfig(cfg)

	if len(seed.Sensors) != 3 {
		t.Fatalf("Expected 3 seeded sensors, got %d", len(seed.Sensors))
	}
	if seed.Sensors[0].MaxThreshold != 8.5 || seed.Sensors[2].Location != "Bathroom Branch" {
		t.Errorf("Expected stock thresholds, got %+v", seed.Sensors)
	}
	if seed.ContinuousFlowThreshold != 30 || !seed.NightFlowMonitoring {
		t.Errorf("Expected default settings, got %d %v", seed.ContinuousFlowThreshold, seed.NightFlowMonitoring)
	}
}

func TestGeneratorConfig_BaseFlowsByName(t *testing.T) {
	cfg := &config.Config{Sensors: []config.SensorSeed{
		{Name: "Garden Tap", BaseFlow: 6.5},
		{Name: "Spare"},
	}}
	cfg.Generator.LeakProbability = 0.01

	gc := generatorConfig(cfg)
	if gc.BaseFlows["Garden Tap"] != 6.5 {
		t.Errorf("Expected Garden Tap base flow 6.5, got %f", gc.BaseFlows["Garden Tap"])
	}
	if _, ok := gc.BaseFlows["Spare"]; ok {
		t.Error("Expected zero base flow to fall back to the generator default")
	}
}
