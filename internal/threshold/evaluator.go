package threshold

import (
	"fmt"

	"github.com/septivank/water-flow-monitor/internal/db"
)

// DefaultHighFactor is the multiple of the threshold above which a leak is high severity
const DefaultHighFactor = 1.5

// Result is the outcome of one evaluation
type Result struct {
	Leak     bool
	Severity string
	Reason   string
}

// Evaluator classifies flow readings against a per-sensor maximum
type Evaluator struct {
	highFactor float64
}

// NewEvaluator creates an evaluator. Factors below 1 fall back to the default.
func NewEvaluator(highFactor float64) *Evaluator {
	if highFactor < 1 {
		highFactor = DefaultHighFactor
	}
	return &Evaluator{highFactor: highFactor}
}

// HighFactor returns the configured high severity factor
func (e *Evaluator) HighFactor() float64 {
	return e.highFactor
}

// Evaluate checks a flow rate against the sensor's maximum. A reading equal
// to the maximum is not a leak.
func (e *Evaluator) Evaluate(flowRate, maxThreshold float64) Result {
	if flowRate <= maxThreshold {
		return Result{}
	}

	if flowRate > maxThreshold*e.highFactor {
		return Result{
			Leak:     true,
			Severity: db.SeverityHigh,
			Reason: fmt.Sprintf("flow %.2f exceeds %.1fx threshold %.2f",
				flowRate, e.highFactor, maxThreshold),
		}
	}

	return Result{
		Leak:     true,
		Severity: db.SeverityMedium,
		Reason:   fmt.Sprintf("flow %.2f exceeds threshold %.2f", flowRate, maxThreshold),
	}
}
