package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
	"github.com/Notoriousjayy/CIFlowDocs/internal/gate"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/metrics"
	"github.com/Notoriousjayy/CIFlowDocs/internal/retry"
	"github.com/Notoriousjayy/CIFlowDocs/internal/stagegraph"
	"github.com/Notoriousjayy/CIFlowDocs/internal/workspace"
)

// Emitter receives lifecycle notifications while a build executes. The
// daemon bridges these to the feedback dispatcher and the event store; the
// executor itself stays transport-agnostic.
type Emitter interface {
	BuildStarted(b *build.Build, stageCount int)
	StageFinished(b *build.Build, r build.StageResult)
}

// NoopEmitter discards all notifications.
type NoopEmitter struct{}

func (NoopEmitter) BuildStarted(*build.Build, int)                {}
func (NoopEmitter) StageFinished(*build.Build, build.StageResult) {}

// Env is the per-build execution environment the daemon assembles before
// handing a build to the executor.
type Env struct {
	WorkDir   string
	Sandboxes *workspace.SandboxPool
	Gates     *gate.Evaluator
}

// Executor drives builds through their batches.
type Executor struct {
	runner   StageRunner
	workers  int
	policy   retry.Policy
	recorder metrics.Recorder
	emitter  Emitter
}

// New creates an executor. workers bounds concurrency inside a batch.
func New(runner StageRunner, workers int, policy retry.Policy, recorder metrics.Recorder, emitter Emitter) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &Executor{runner: runner, workers: workers, policy: policy, recorder: recorder, emitter: emitter}
}

// Execute runs the resolved batches and drives the build to a terminal
// status. The returned error carries diagnostic detail for failed, blocked
// and cancelled builds; the build itself always ends terminal.
func (e *Executor) Execute(ctx context.Context, b *build.Build, batches []stagegraph.Batch, env Env) (build.Status, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := b.MarkRunning(cancel); err != nil {
		return b.Status(), derrors.InternalError("build not startable", err)
	}

	total := 0
	for _, batch := range batches {
		total += len(batch)
	}
	e.emitter.BuildStarted(b, total)
	started := time.Now()

	status, execErr := e.runBatches(runCtx, b, batches, env)

	if err := b.Finish(status); err != nil {
		slog.Error("Build finish rejected", logfields.BuildID(b.ID), logfields.Error(err))
	}
	e.recorder.ObserveBuildDuration(b.Pipeline, time.Since(started))
	e.recorder.IncBuildOutcome(b.Pipeline, string(status))
	slog.Info("Build finished",
		logfields.BuildID(b.ID), logfields.Pipeline(b.Pipeline),
		slog.String("status", string(status)),
		logfields.DurationMS(float64(time.Since(started).Milliseconds())))
	return status, execErr
}

func (e *Executor) runBatches(ctx context.Context, b *build.Build, batches []stagegraph.Batch, env Env) (build.Status, error) {
	for i, batch := range batches {
		if ctx.Err() != nil {
			e.skipFrom(b, batches, i)
			return build.StatusCancelled, derrors.InternalError("build cancelled", ctx.Err())
		}

		if master, ok := e.masterBlocked(b, batch); ok {
			e.skipFrom(b, batches, i)
			return build.StatusBlocked, derrors.GateBlocked("master-stage",
				fmt.Sprintf("sub-build feeding %s did not complete", master))
		}

		e.runBatch(ctx, b, i, batch, env)

		if ctx.Err() != nil {
			e.skipFrom(b, batches, i+1)
			return build.StatusCancelled, derrors.InternalError("build cancelled", ctx.Err())
		}

		if failed, ok := firstFailureIn(b, batch); ok {
			e.skipFrom(b, batches, i+1)
			if failed.Outcome == build.OutcomeTimedOut {
				return build.StatusFailed, derrors.StageTimedOut(failed.Stage)
			}
			return build.StatusFailed, derrors.StageFailed(failed.Stage, errors.New(failed.Error))
		}

		// Gates attached to stages of this batch fire as soon as the batch
		// completes, enabling early termination before later batches run.
		if v := e.evaluateGates(b, batch, env.Gates); !v.Passed {
			e.skipFrom(b, batches, i+1)
			return build.StatusBlocked, derrors.GateBlocked(v.Gate, v.Reason)
		}
	}
	return build.StatusPromoted, nil
}

// runBatch executes one batch with bounded concurrency.
func (e *Executor) runBatch(ctx context.Context, b *build.Build, batchIdx int, batch stagegraph.Batch, env Env) {
	slog.Debug("Running batch",
		logfields.BuildID(b.ID), logfields.Batch(batchIdx), slog.Any("stages", batch.Names()))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for _, stage := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(st stagegraph.Stage) {
			defer wg.Done()
			defer func() { <-sem }()
			e.runStage(ctx, b, st, env)
		}(stage)
	}
	wg.Wait()
}

// runStage drives one stage through its attempts and records the result.
func (e *Executor) runStage(ctx context.Context, b *build.Build, st stagegraph.Stage, env Env) {
	if ctx.Err() != nil {
		result := b.RecordResult(build.StageResult{Stage: st.Name, Outcome: build.OutcomeSkipped})
		e.emitter.StageFinished(b, result)
		return
	}

	var sandbox workspace.Sandbox
	if st.NeedsSandbox {
		var err error
		sandbox, err = env.Sandboxes.Checkout(ctx)
		if err != nil {
			result := b.RecordResult(build.StageResult{
				Stage: st.Name, Outcome: build.OutcomeFail,
				Error: fmt.Sprintf("sandbox checkout: %v", err),
			})
			e.recorder.IncStageOutcome(b.Pipeline, st.Name, string(result.Outcome))
			e.emitter.StageFinished(b, result)
			return
		}
		defer env.Sandboxes.Checkin(sandbox)
	}

	maxAttempts := 1
	if st.FlakyTolerant && st.MaxRetries > 0 {
		maxAttempts += st.MaxRetries
	}

	var result build.StageResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			e.recorder.IncStageRetry(b.Pipeline, st.Name)
			slog.Warn("Retrying flaky-tolerant stage",
				logfields.BuildID(b.ID), logfields.Stage(st.Name), slog.Int("attempt", attempt))
			select {
			case <-time.After(e.policy.Delay(attempt)):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		result = e.attempt(ctx, b, st, sandbox.Name, attempt, env.WorkDir)
		result.Retries = attempt
		if !result.Outcome.Failed() {
			break
		}
	}

	result = b.RecordResult(result)
	e.recorder.ObserveStageDuration(b.Pipeline, st.Name, time.Duration(result.Metrics.DurationMS)*time.Millisecond)
	e.recorder.IncStageOutcome(b.Pipeline, st.Name, string(result.Outcome))
	e.emitter.StageFinished(b, result)
}

// attempt runs the stage once under its timeout.
func (e *Executor) attempt(ctx context.Context, b *build.Build, st stagegraph.Stage, sandbox string, attempt int, workDir string) build.StageResult {
	stageCtx := ctx
	var cancel context.CancelFunc
	if st.Timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, st.Timeout)
		defer cancel()
	}

	report, err := e.runner.Run(stageCtx, StageInvocation{
		BuildID:  b.ID,
		Pipeline: b.Pipeline,
		Stage:    st,
		WorkDir:  workDir,
		Sandbox:  sandbox,
		Attempt:  attempt,
	})

	result := build.StageResult{
		Stage:   st.Name,
		Metrics: report.Metrics,
		LogRef:  report.LogPath,
	}

	switch {
	case ctx.Err() != nil:
		// Build-level cancellation interrupted the stage; its result is
		// not a verdict on the code.
		result.Outcome = build.OutcomeSkipped
		result.Error = "interrupted by cancellation"
	case stageCtx.Err() == context.DeadlineExceeded:
		// A timed-out stage gates identically to a failed one.
		result.Outcome = build.OutcomeTimedOut
		result.Error = fmt.Sprintf("exceeded timeout %s", st.Timeout)
	case err != nil:
		result.Outcome = build.OutcomeFail
		result.Error = err.Error()
	case report.ExitCode != 0:
		result.Outcome = build.OutcomeFail
		result.Error = fmt.Sprintf("exit code %d", report.ExitCode)
	default:
		result.Outcome = build.OutcomePass
	}
	return result
}

// skipFrom records a skipped result for every not-yet-finished stage in
// batches[from:]. Fail-fast keeps the audit trail complete: skipped stages
// are recorded, not forgotten.
func (e *Executor) skipFrom(b *build.Build, batches []stagegraph.Batch, from int) {
	done := map[string]bool{}
	for _, r := range b.Results() {
		done[r.Stage] = true
	}
	for _, batch := range batches[from:] {
		for _, st := range batch {
			if done[st.Name] {
				continue
			}
			result := b.RecordResult(build.StageResult{Stage: st.Name, Outcome: build.OutcomeSkipped})
			e.recorder.IncStageOutcome(b.Pipeline, st.Name, string(result.Outcome))
			e.emitter.StageFinished(b, result)
		}
	}
}

// masterBlocked reports whether this batch contains a master aggregation
// stage whose feeding sub-builds did not all pass. Running the master on a
// partial aggregate would promote an artifact nobody tested.
func (e *Executor) masterBlocked(b *build.Build, batch stagegraph.Batch) (string, bool) {
	var master *stagegraph.Stage
	for i := range batch {
		if batch[i].Master {
			master = &batch[i]
			break
		}
	}
	if master == nil {
		return "", false
	}
	for _, r := range b.Results() {
		if r.Outcome != build.OutcomePass {
			return master.Name, true
		}
	}
	return "", false
}

// firstFailureIn finds the first failing result belonging to the batch.
func firstFailureIn(b *build.Build, batch stagegraph.Batch) (build.StageResult, bool) {
	members := map[string]bool{}
	for _, st := range batch {
		members[st.Name] = true
	}
	for _, r := range b.Results() {
		if members[r.Stage] && r.Outcome.Failed() {
			return r, true
		}
	}
	return build.StageResult{}, false
}

// evaluateGates runs the gates attached to the batch's stages against all
// accumulated results.
func (e *Executor) evaluateGates(b *build.Build, batch stagegraph.Batch, ev *gate.Evaluator) gate.Verdict {
	if ev == nil {
		return gate.Verdict{Passed: true}
	}
	var names []string
	for _, st := range batch {
		names = append(names, st.Gates...)
	}
	if len(names) == 0 {
		return gate.Verdict{Passed: true}
	}
	return ev.Evaluate(names, b.Results())
}
