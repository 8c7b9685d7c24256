// Package executor runs a build's resolved stage batches: bounded
// concurrency inside a batch, fail-fast across batches, per-stage timeouts,
// bounded retry for flaky-tolerant stages and gate evaluation as results
// accumulate.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/stagegraph"
)

// StageInvocation is everything a runner needs to execute one stage attempt.
type StageInvocation struct {
	BuildID  string
	Pipeline string
	Stage    stagegraph.Stage
	WorkDir  string
	Sandbox  string // exclusive database sandbox name, when the stage needs one
	Attempt  int    // 0 for the first run, 1.. for retries
}

// StageReport is what a runner observed. A non-zero exit code is a stage
// failure, not an error; errors mean the stage could not be run at all.
type StageReport struct {
	ExitCode int
	Metrics  build.StageMetrics
	LogPath  string
}

// StageRunner executes a single stage attempt. Implementations must honor
// ctx cancellation and deadlines.
type StageRunner interface {
	Run(ctx context.Context, inv StageInvocation) (StageReport, error)
}

// Environment variables handed to stage commands. Stages report metrics by
// writing JSON to the file named in CIFLOW_RESULT_FILE.
const (
	envBuildID    = "CIFLOW_BUILD_ID"
	envPipeline   = "CIFLOW_PIPELINE"
	envStage      = "CIFLOW_STAGE"
	envSandbox    = "CIFLOW_SANDBOX"
	envResultFile = "CIFLOW_RESULT_FILE"
)

// ExecRunner runs stage commands as subprocesses in the build's working
// directory. On cancellation the process group gets SIGTERM, then SIGKILL
// after the grace period.
type ExecRunner struct {
	Grace time.Duration
}

// NewExecRunner creates a subprocess runner with the given termination grace
// period.
func NewExecRunner(grace time.Duration) *ExecRunner {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &ExecRunner{Grace: grace}
}

func (r *ExecRunner) Run(ctx context.Context, inv StageInvocation) (StageReport, error) {
	if len(inv.Stage.Command) == 0 {
		return StageReport{}, fmt.Errorf("stage %s has no command", inv.Stage.Name)
	}

	logDir := filepath.Join(inv.WorkDir, ".ciflow", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return StageReport{}, fmt.Errorf("create log dir: %w", err)
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("%s.%d.log", inv.Stage.Name, inv.Attempt))
	logFile, err := os.Create(logPath)
	if err != nil {
		return StageReport{}, fmt.Errorf("create stage log: %w", err)
	}
	defer logFile.Close()

	resultPath := filepath.Join(logDir, fmt.Sprintf("%s.%d.result.json", inv.Stage.Name, inv.Attempt))

	cmd := exec.CommandContext(ctx, inv.Stage.Command[0], inv.Stage.Command[1:]...)
	cmd.Dir = inv.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.Grace

	env := os.Environ()
	for k, v := range inv.Stage.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		envBuildID+"="+inv.BuildID,
		envPipeline+"="+inv.Pipeline,
		envStage+"="+inv.Stage.Name,
		envResultFile+"="+resultPath,
	)
	if inv.Sandbox != "" {
		env = append(env, envSandbox+"="+inv.Sandbox)
	}
	cmd.Env = env

	started := time.Now()
	runErr := cmd.Run()
	report := StageReport{LogPath: logPath}
	report.Metrics = readResultFile(resultPath)
	report.Metrics.DurationMS = time.Since(started).Milliseconds()

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			report.ExitCode = exitErr.ExitCode()
			return report, nil
		}
		return report, runErr
	}
	return report, nil
}

// readResultFile parses the metrics a stage reported, if any. A missing or
// malformed result file leaves the metrics zeroed; the exit code alone then
// decides the outcome.
func readResultFile(path string) build.StageMetrics {
	var m build.StageMetrics
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	_ = json.Unmarshal(data, &m)
	return m
}
