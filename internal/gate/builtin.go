package gate

import (
	"fmt"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
)

// FullPassGate blocks unless every executed stage passed with a 100% pass
// rate. A single failing test blocks promotion unconditionally. Stages that
// report no pass rate are judged by their outcome alone.
type FullPassGate struct {
	name string
}

func (g FullPassGate) Name() string { return g.name }

func (g FullPassGate) Evaluate(results []build.StageResult) Verdict {
	for _, r := range results {
		if r.Outcome == build.OutcomeSkipped {
			continue
		}
		if r.Outcome.Failed() {
			return Block(g.name, fmt.Sprintf("stage %s %s", r.Stage, r.Outcome))
		}
		if r.Metrics.PassRate != nil && *r.Metrics.PassRate < 100 {
			return Block(g.name, fmt.Sprintf("stage %s pass rate %.1f%% < 100%%", r.Stage, *r.Metrics.PassRate))
		}
	}
	return Pass(g.name)
}

// CoverageFloorGate blocks when any stage reports coverage below the floor.
// Stages that report no coverage metric are ignored.
type CoverageFloorGate struct {
	name string
	Min  float64
}

func (g CoverageFloorGate) Name() string { return g.name }

func (g CoverageFloorGate) Evaluate(results []build.StageResult) Verdict {
	for _, r := range results {
		if r.Outcome == build.OutcomeSkipped || r.Metrics.CoveragePct == nil {
			continue
		}
		if *r.Metrics.CoveragePct < g.Min {
			return Block(g.name, fmt.Sprintf("stage %s coverage %.1f%% < %.1f%%", r.Stage, *r.Metrics.CoveragePct, g.Min))
		}
	}
	return Pass(g.name)
}

// ZeroHighSeverityGate blocks when any stage reports violations at fail
// severity. Lower-severity violations are reported but non-blocking.
type ZeroHighSeverityGate struct {
	name string
}

func (g ZeroHighSeverityGate) Name() string { return g.name }

func (g ZeroHighSeverityGate) Evaluate(results []build.StageResult) Verdict {
	for _, r := range results {
		if r.Outcome == build.OutcomeSkipped {
			continue
		}
		if r.Metrics.FailViolationCount > 0 {
			return Block(g.name, fmt.Sprintf("stage %s reported %d fail-severity violations", r.Stage, r.Metrics.FailViolationCount))
		}
	}
	return Pass(g.name)
}

// MaxDurationGate blocks when accumulated stage duration exceeds the budget.
type MaxDurationGate struct {
	name  string
	MaxMS int64
}

func (g MaxDurationGate) Name() string { return g.name }

func (g MaxDurationGate) Evaluate(results []build.StageResult) Verdict {
	var total int64
	for _, r := range results {
		total += r.Metrics.DurationMS
	}
	if g.MaxMS > 0 && total > g.MaxMS {
		return Block(g.name, fmt.Sprintf("total stage duration %dms > %dms", total, g.MaxMS))
	}
	return Pass(g.name)
}

// MaxDuplicationGate blocks when any stage reports duplication above the cap.
type MaxDuplicationGate struct {
	name string
	Max  float64
}

func (g MaxDuplicationGate) Name() string { return g.name }

func (g MaxDuplicationGate) Evaluate(results []build.StageResult) Verdict {
	for _, r := range results {
		if r.Metrics.DuplicationPct > g.Max {
			return Block(g.name, fmt.Sprintf("stage %s duplication %.1f%% > %.1f%%", r.Stage, r.Metrics.DuplicationPct, g.Max))
		}
	}
	return Pass(g.name)
}

// MaxCouplingGate blocks when any stage reports a coupling score above the cap.
type MaxCouplingGate struct {
	name string
	Max  float64
}

func (g MaxCouplingGate) Name() string { return g.name }

func (g MaxCouplingGate) Evaluate(results []build.StageResult) Verdict {
	for _, r := range results {
		if r.Metrics.CouplingScore > g.Max {
			return Block(g.name, fmt.Sprintf("stage %s coupling %.1f > %.1f", r.Stage, r.Metrics.CouplingScore, g.Max))
		}
	}
	return Pass(g.name)
}
