// Package gate implements promotion gates: pure predicates over accumulated
// stage metrics. Gates never mutate state, they only emit a verdict.
package gate

import (
	"fmt"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
)

// Verdict indicates whether a gate passed and provides context.
type Verdict struct {
	Gate   string
	Passed bool
	Reason string // human-readable reason for failure
}

// Pass returns a passing verdict.
func Pass(gate string) Verdict {
	return Verdict{Gate: gate, Passed: true}
}

// Block returns a failing verdict with a reason.
func Block(gate, reason string) Verdict {
	return Verdict{Gate: gate, Passed: false, Reason: reason}
}

// Gate is a single promotion predicate.
type Gate interface {
	// Name returns a short identifier for this gate (for logging/events).
	Name() string

	// Evaluate checks the accumulated stage results. It must be pure:
	// same results, same verdict.
	Evaluate(results []build.StageResult) Verdict
}

// FromConfig constructs a gate from its configuration.
func FromConfig(gc config.GateConfig) (Gate, error) {
	switch gc.Type {
	case config.GateFullPass:
		return FullPassGate{name: gc.Name}, nil
	case config.GateCoverageFloor:
		return CoverageFloorGate{name: gc.Name, Min: gc.Threshold}, nil
	case config.GateZeroHighSev:
		return ZeroHighSeverityGate{name: gc.Name}, nil
	case config.GateMaxDuration:
		return MaxDurationGate{name: gc.Name, MaxMS: int64(gc.Threshold)}, nil
	case config.GateMaxDuplication:
		return MaxDuplicationGate{name: gc.Name, Max: gc.Threshold}, nil
	case config.GateMaxCoupling:
		return MaxCouplingGate{name: gc.Name, Max: gc.Threshold}, nil
	default:
		return nil, fmt.Errorf("unknown gate type %q", gc.Type)
	}
}
