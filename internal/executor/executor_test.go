package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
	"github.com/Notoriousjayy/CIFlowDocs/internal/gate"
	"github.com/Notoriousjayy/CIFlowDocs/internal/retry"
	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
	"github.com/Notoriousjayy/CIFlowDocs/internal/stagegraph"
	"github.com/Notoriousjayy/CIFlowDocs/internal/workspace"
)

// scripted is the behavior of one stage in the fake runner.
type scripted struct {
	exitCodes []int // per attempt; last entry repeats
	metrics   build.StageMetrics
	blockCtx  bool // block until ctx is done
}

type fakeRunner struct {
	mu       sync.Mutex
	stages   map[string]*scripted
	attempts map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{stages: map[string]*scripted{}, attempts: map[string]int{}}
}

func (f *fakeRunner) script(stage string, s scripted) { f.stages[stage] = &s }

func (f *fakeRunner) Run(ctx context.Context, inv StageInvocation) (StageReport, error) {
	f.mu.Lock()
	s := f.stages[inv.Stage.Name]
	attempt := f.attempts[inv.Stage.Name]
	f.attempts[inv.Stage.Name] = attempt + 1
	f.mu.Unlock()

	if s == nil {
		return StageReport{}, nil // default pass
	}
	if s.blockCtx {
		<-ctx.Done()
		return StageReport{ExitCode: 1}, nil
	}
	code := 0
	if len(s.exitCodes) > 0 {
		idx := attempt
		if idx >= len(s.exitCodes) {
			idx = len(s.exitCodes) - 1
		}
		code = s.exitCodes[idx]
	}
	return StageReport{ExitCode: code, Metrics: s.metrics}, nil
}

func testBuild(pipeline string) *build.Build {
	return build.New(build.Request{
		Pipeline: pipeline,
		Revision: revision.Revision{Ref: "main", Hash: "abcd1234"},
		Trigger:  build.TriggerManual,
	}, "fp-test")
}

func stage(name string, deps ...string) stagegraph.Stage {
	return stagegraph.Stage{Name: name, Kind: config.KindUnitTest, DependsOn: deps, Timeout: time.Minute}
}

func newExecutor(runner StageRunner) *Executor {
	return New(runner, 4, retry.DefaultPolicy(), nil, nil)
}

func emptyEnv() Env {
	return Env{WorkDir: "", Sandboxes: workspace.NewSandboxPool("test", 1)}
}

func TestAllStagesPassPromotes(t *testing.T) {
	runner := newFakeRunner()
	b := testBuild("payments")
	batches := []stagegraph.Batch{
		{stage("compile")},
		{stage("unit-test", "compile"), stage("inspect", "compile")},
	}

	status, err := newExecutor(runner).Execute(context.Background(), b, batches, emptyEnv())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != build.StatusPromoted {
		t.Fatalf("status = %s, want promoted", status)
	}
	if got := len(b.Results()); got != 3 {
		t.Fatalf("results = %d, want 3", got)
	}
	for _, r := range b.Results() {
		if r.Outcome != build.OutcomePass {
			t.Fatalf("stage %s = %s, want pass", r.Stage, r.Outcome)
		}
	}
}

func TestFailFastSkipsLaterBatches(t *testing.T) {
	runner := newFakeRunner()
	runner.script("unit-test", scripted{exitCodes: []int{2}})
	b := testBuild("payments")
	batches := []stagegraph.Batch{
		{stage("compile")},
		{stage("unit-test", "compile")},
		{stage("system-test", "unit-test"), stage("deploy", "unit-test")},
	}

	status, err := newExecutor(runner).Execute(context.Background(), b, batches, emptyEnv())
	if status != build.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	if err == nil {
		t.Fatalf("failed build must return diagnostic error")
	}

	outcomes := map[string]build.StageOutcome{}
	for _, r := range b.Results() {
		outcomes[r.Stage] = r.Outcome
	}
	if outcomes["compile"] != build.OutcomePass {
		t.Fatalf("compile = %s", outcomes["compile"])
	}
	if outcomes["unit-test"] != build.OutcomeFail {
		t.Fatalf("unit-test = %s", outcomes["unit-test"])
	}
	if outcomes["system-test"] != build.OutcomeSkipped || outcomes["deploy"] != build.OutcomeSkipped {
		t.Fatalf("later batches must be skipped: %v", outcomes)
	}

	if first, ok := b.FirstFailure(); !ok || first.Stage != "unit-test" {
		t.Fatalf("first failure = %+v, %v", first, ok)
	}
}

func TestStageTimeoutBecomesTimedOut(t *testing.T) {
	runner := newFakeRunner()
	runner.script("system-test", scripted{blockCtx: true})
	b := testBuild("payments")
	st := stage("system-test")
	st.Timeout = 30 * time.Millisecond
	batches := []stagegraph.Batch{{st}}

	status, _ := newExecutor(runner).Execute(context.Background(), b, batches, emptyEnv())
	if status != build.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	results := b.Results()
	if len(results) != 1 || results[0].Outcome != build.OutcomeTimedOut {
		t.Fatalf("results = %+v, want timed-out", results)
	}
}

func TestFlakyTolerantStageRetries(t *testing.T) {
	runner := newFakeRunner()
	runner.script("system-test", scripted{exitCodes: []int{1, 0}})
	b := testBuild("payments")
	st := stage("system-test")
	st.FlakyTolerant = true
	st.MaxRetries = 2
	batches := []stagegraph.Batch{{st}}

	ex := New(runner, 4, retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 2), nil, nil)
	status, err := ex.Execute(context.Background(), b, batches, emptyEnv())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != build.StatusPromoted {
		t.Fatalf("status = %s, want promoted after retry", status)
	}
	results := b.Results()
	if results[0].Retries != 1 {
		t.Fatalf("retries = %d, want 1", results[0].Retries)
	}
}

func TestNonFlakyStageNeverRetries(t *testing.T) {
	runner := newFakeRunner()
	runner.script("unit-test", scripted{exitCodes: []int{1, 0}})
	b := testBuild("payments")
	st := stage("unit-test")
	st.MaxRetries = 2 // ignored without FlakyTolerant
	batches := []stagegraph.Batch{{st}}

	status, _ := newExecutor(runner).Execute(context.Background(), b, batches, emptyEnv())
	if status != build.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	if runner.attempts["unit-test"] != 1 {
		t.Fatalf("attempts = %d, want exactly 1", runner.attempts["unit-test"])
	}
}

func TestGateBlocksPromotion(t *testing.T) {
	runner := newFakeRunner()
	runner.script("unit-test", scripted{metrics: build.StageMetrics{PassRate: build.Pct(100), CoveragePct: build.Pct(84.9)}})
	b := testBuild("payments")

	ev, err := gate.NewEvaluator([]config.GateConfig{
		{Name: "floor", Type: config.GateCoverageFloor, Threshold: 85},
	})
	if err != nil {
		t.Fatal(err)
	}

	st := stage("unit-test")
	st.Gates = []string{"floor"}
	later := stage("deploy", "unit-test")
	batches := []stagegraph.Batch{{st}, {later}}

	env := emptyEnv()
	env.Gates = ev
	status, execErr := newExecutor(runner).Execute(context.Background(), b, batches, env)
	if status != build.StatusBlocked {
		t.Fatalf("status = %s, want blocked", status)
	}
	if execErr == nil {
		t.Fatalf("blocked build must return gate diagnostics")
	}

	outcomes := map[string]build.StageOutcome{}
	for _, r := range b.Results() {
		outcomes[r.Stage] = r.Outcome
	}
	if outcomes["deploy"] != build.OutcomeSkipped {
		t.Fatalf("stages after a blocking gate must be skipped: %v", outcomes)
	}
}

func TestCancellationFinishesCancelled(t *testing.T) {
	runner := newFakeRunner()
	runner.script("system-test", scripted{blockCtx: true})
	b := testBuild("payments")
	batches := []stagegraph.Batch{
		{stage("system-test")},
		{stage("deploy", "system-test")},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		status, _ := newExecutor(runner).Execute(context.Background(), b, batches, emptyEnv())
		if status != build.StatusCancelled {
			t.Errorf("status = %s, want cancelled", status)
		}
	}()

	// Wait for the build to be running, then cancel it.
	for b.Status() != build.StatusRunning {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	b.Cancel("superseded by a newer revision")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled build never finished")
	}
	if !b.Terminal() {
		t.Fatalf("build must be terminal after cancellation")
	}
}

func TestSandboxStageFailsWithoutPool(t *testing.T) {
	runner := newFakeRunner()
	b := testBuild("payments")
	st := stage("db-integrate")
	st.NeedsSandbox = true
	batches := []stagegraph.Batch{{st}}

	// A pipeline without configured sandboxes hands the executor a nil pool;
	// the stage must fail cleanly instead of crashing the worker.
	status, _ := newExecutor(runner).Execute(context.Background(), b, batches, Env{})
	if status != build.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	results := b.Results()
	if len(results) != 1 || results[0].Outcome != build.OutcomeFail {
		t.Fatalf("results = %+v, want one failed stage", results)
	}
	if !strings.Contains(results[0].Error, "sandbox") {
		t.Fatalf("error = %q, want sandbox checkout failure", results[0].Error)
	}
}

func TestMasterStageBlockedOnPartialAggregate(t *testing.T) {
	runner := newFakeRunner()
	runner.script("sub-a-test", scripted{exitCodes: []int{1}})
	b := testBuild("suite")

	subA := stage("sub-a-test")
	subA.SubBuild = "sub-a"
	subA.FlakyTolerant = false
	master := stage("aggregate", "sub-a-test")
	master.Master = true

	// Fail-fast already catches the failed sub-build stage before the
	// master batch; the master guard is the backstop for skipped results.
	batches := []stagegraph.Batch{{subA}, {master}}

	status, _ := newExecutor(runner).Execute(context.Background(), b, batches, emptyEnv())
	if status != build.StatusFailed {
		t.Fatalf("status = %s, want failed from sub-build", status)
	}

	outcomes := map[string]build.StageOutcome{}
	for _, r := range b.Results() {
		outcomes[r.Stage] = r.Outcome
	}
	if outcomes["aggregate"] != build.OutcomeSkipped {
		t.Fatalf("master must not run on a partial aggregate: %v", outcomes)
	}
}
