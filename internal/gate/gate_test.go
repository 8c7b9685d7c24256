package gate

import (
	"testing"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
)

func pass(stage string, passRate float64) build.StageResult {
	return build.StageResult{Stage: stage, Outcome: build.OutcomePass, Metrics: build.StageMetrics{PassRate: build.Pct(passRate)}}
}

func passNoMetrics(stage string) build.StageResult {
	return build.StageResult{Stage: stage, Outcome: build.OutcomePass}
}

func TestFullPassGate(t *testing.T) {
	g := FullPassGate{name: "all-green"}

	if v := g.Evaluate([]build.StageResult{pass("unit-test", 100)}); !v.Passed {
		t.Fatalf("100%% pass rate should pass: %s", v.Reason)
	}

	// A single failing test blocks promotion unconditionally.
	if v := g.Evaluate([]build.StageResult{pass("unit-test", 99.9)}); v.Passed {
		t.Fatalf("99.9%% pass rate must block")
	}

	// Timed-out gates identically to failed.
	timedOut := build.StageResult{Stage: "unit-test", Outcome: build.OutcomeTimedOut}
	if v := g.Evaluate([]build.StageResult{timedOut}); v.Passed {
		t.Fatalf("timed-out stage must block")
	}

	// Skipped stages do not count against the gate.
	skipped := build.StageResult{Stage: "system-test", Outcome: build.OutcomeSkipped}
	if v := g.Evaluate([]build.StageResult{pass("unit-test", 100), skipped}); !v.Passed {
		t.Fatalf("skipped stage should not block: %s", v.Reason)
	}

	// Stages without a pass rate (compile and the like) are judged by
	// outcome alone.
	if v := g.Evaluate([]build.StageResult{passNoMetrics("compile")}); !v.Passed {
		t.Fatalf("metric-less passing stage should not block: %s", v.Reason)
	}

	// A truthfully reported 0% pass rate blocks; absence and zero differ.
	if v := g.Evaluate([]build.StageResult{pass("unit-test", 0)}); v.Passed {
		t.Fatalf("0%% pass rate must block")
	}
}

func TestCoverageFloorGate(t *testing.T) {
	g := CoverageFloorGate{name: "floor", Min: 85}

	below := build.StageResult{Stage: "unit-test", Outcome: build.OutcomePass,
		Metrics: build.StageMetrics{PassRate: build.Pct(100), CoveragePct: build.Pct(84.9)}}
	if v := g.Evaluate([]build.StageResult{below}); v.Passed {
		t.Fatalf("84.9%% coverage must block at 85%% floor")
	}

	at := build.StageResult{Stage: "unit-test", Outcome: build.OutcomePass,
		Metrics: build.StageMetrics{PassRate: build.Pct(100), CoveragePct: build.Pct(85)}}
	if v := g.Evaluate([]build.StageResult{at}); !v.Passed {
		t.Fatalf("85%% coverage should pass at 85%% floor: %s", v.Reason)
	}

	// Stages without a coverage metric are ignored, but a truthful 0 blocks.
	if v := g.Evaluate([]build.StageResult{passNoMetrics("compile")}); !v.Passed {
		t.Fatalf("coverage-less stage should not block: %s", v.Reason)
	}
	zero := build.StageResult{Stage: "unit-test", Outcome: build.OutcomePass,
		Metrics: build.StageMetrics{CoveragePct: build.Pct(0)}}
	if v := g.Evaluate([]build.StageResult{zero}); v.Passed {
		t.Fatalf("0%% coverage must block at 85%% floor")
	}
}

func TestZeroHighSeverityGate(t *testing.T) {
	g := ZeroHighSeverityGate{name: "no-high-sev"}

	// Lower-severity violations are reported but non-blocking.
	lowOnly := build.StageResult{Stage: "inspect", Outcome: build.OutcomePass,
		Metrics: build.StageMetrics{ViolationCount: 12, FailViolationCount: 0}}
	if v := g.Evaluate([]build.StageResult{lowOnly}); !v.Passed {
		t.Fatalf("low severity violations must not block: %s", v.Reason)
	}

	highSev := build.StageResult{Stage: "inspect", Outcome: build.OutcomePass,
		Metrics: build.StageMetrics{ViolationCount: 3, FailViolationCount: 1}}
	if v := g.Evaluate([]build.StageResult{highSev}); v.Passed {
		t.Fatalf("fail-severity violation must block")
	}
}

func TestThresholdGates(t *testing.T) {
	slow := build.StageResult{Stage: "system-test", Metrics: build.StageMetrics{DurationMS: 120000}}
	if v := (MaxDurationGate{name: "fast", MaxMS: 60000}).Evaluate([]build.StageResult{slow}); v.Passed {
		t.Fatalf("duration over budget must block")
	}

	dup := build.StageResult{Stage: "inspect", Metrics: build.StageMetrics{DuplicationPct: 12.5}}
	if v := (MaxDuplicationGate{name: "dup", Max: 10}).Evaluate([]build.StageResult{dup}); v.Passed {
		t.Fatalf("duplication over cap must block")
	}

	coupled := build.StageResult{Stage: "inspect", Metrics: build.StageMetrics{CouplingScore: 9}}
	if v := (MaxCouplingGate{name: "coupling", Max: 5}).Evaluate([]build.StageResult{coupled}); v.Passed {
		t.Fatalf("coupling over cap must block")
	}
}

func TestGatesArePure(t *testing.T) {
	g := FullPassGate{name: "all-green"}
	results := []build.StageResult{pass("unit-test", 99)}
	first := g.Evaluate(results)
	second := g.Evaluate(results)
	if first != second {
		t.Fatalf("same results must yield same verdict: %+v vs %+v", first, second)
	}
}

func TestEvaluatorStopsAtFirstFailure(t *testing.T) {
	ev, err := NewEvaluator([]config.GateConfig{
		{Name: "all-green", Type: config.GateFullPass},
		{Name: "floor", Type: config.GateCoverageFloor, Threshold: 85},
	})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	failing := []build.StageResult{pass("unit-test", 90)}
	v := ev.Evaluate([]string{"all-green", "floor"}, failing)
	if v.Passed || v.Gate != "all-green" {
		t.Fatalf("expected all-green to block first, got %+v", v)
	}

	passing := []build.StageResult{{Stage: "unit-test", Outcome: build.OutcomePass,
		Metrics: build.StageMetrics{PassRate: build.Pct(100), CoveragePct: build.Pct(90)}}}
	if v := ev.Evaluate([]string{"all-green", "floor"}, passing); !v.Passed {
		t.Fatalf("expected pass, got %+v", v)
	}
}

func TestEvaluatorUnknownGateBlocks(t *testing.T) {
	ev, err := NewEvaluator(nil)
	if err != nil {
		t.Fatal(err)
	}
	if v := ev.Evaluate([]string{"ghost"}, nil); v.Passed {
		t.Fatalf("unknown gate reference must block")
	}
}
