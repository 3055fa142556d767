package threshold_test

import (
	"testing"

	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/threshold"
)

func TestEvaluate_BelowThreshold(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultHighFactor)

	result := e.Evaluate(4.1, 8.5)
	if result.Leak {
		t.Errorf("Expected no leak, got %s", result.Reason)
	}
}

func TestEvaluate_EqualToThresholdIsNotLeak(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultHighFactor)

	if e.Evaluate(8.5, 8.5).Leak {
		t.Error("Expected flow equal to threshold not to be a leak")
	}
}

func TestEvaluate_Medium(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultHighFactor)

	result := e.Evaluate(9.0, 8.5)
	if !result.Leak {
		t.Fatal("Expected leak")
	}
	if result.Severity != db.SeverityMedium {
		t.Errorf("Expected medium, got %s", result.Severity)
	}
	if result.Reason == "" {
		t.Error("Expected reason for leak")
	}
}

func TestEvaluate_High(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultHighFactor)

	result := e.Evaluate(13.5, 8.5)
	if result.Severity != db.SeverityHigh {
		t.Errorf("Expected high, got %s", result.Severity)
	}
}

func TestEvaluate_ExactHighBoundaryIsMedium(t *testing.T) {
	e := threshold.NewEvaluator(threshold.DefaultHighFactor)

	// 4 * 1.5 = 6 exactly
	result := e.Evaluate(6.0, 4.0)
	if result.Severity != db.SeverityMedium {
		t.Errorf("Expected medium at the boundary, got %s", result.Severity)
	}
}

func TestNewEvaluator_InvalidFactorFallsBack(t *testing.T) {
	e := threshold.NewEvaluator(0.5)
	if e.HighFactor() != threshold.DefaultHighFactor {
		t.Errorf("Expected default factor, got %f", e.HighFactor())
	}
}
