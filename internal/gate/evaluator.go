package gate

import (
	"fmt"
	"log/slog"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
)

// Evaluator holds a pipeline's named gates and evaluates requested subsets in
// sequence, stopping at the first failure. Gates are evaluated as soon as
// their designated stages complete, enabling early termination: a failed gate
// after the unit-test batch aborts the pipeline before later stages run.
type Evaluator struct {
	gates map[string]Gate
}

// NewEvaluator builds an evaluator from pipeline gate configuration.
func NewEvaluator(configs []config.GateConfig) (*Evaluator, error) {
	gates := make(map[string]Gate, len(configs))
	for _, gc := range configs {
		g, err := FromConfig(gc)
		if err != nil {
			return nil, fmt.Errorf("gate %q: %w", gc.Name, err)
		}
		gates[gc.Name] = g
	}
	return &Evaluator{gates: gates}, nil
}

// Evaluate runs the named gates in declared order against the accumulated
// results, returning the first failing verdict or a passing one.
func (e *Evaluator) Evaluate(names []string, results []build.StageResult) Verdict {
	for _, name := range names {
		g, ok := e.gates[name]
		if !ok {
			// Validation rejects unknown gate references; reaching here
			// means the configuration changed underneath us.
			return Block(name, "gate not configured")
		}
		v := g.Evaluate(results)
		if !v.Passed {
			slog.Warn("Gate blocked promotion",
				logfields.Gate(v.Gate), slog.String("reason", v.Reason))
			return v
		}
	}
	return Verdict{Passed: true}
}

// EvaluateAll runs every configured gate, for the end-of-pipeline check.
func (e *Evaluator) EvaluateAll(results []build.StageResult) Verdict {
	for name, g := range e.gates {
		v := g.Evaluate(results)
		if !v.Passed {
			slog.Warn("Gate blocked promotion",
				logfields.Gate(name), slog.String("reason", v.Reason))
			return v
		}
	}
	return Verdict{Passed: true}
}
