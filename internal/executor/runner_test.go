package executor

import (
	"context"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/stagegraph"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestExecRunnerCapturesExitCodeAndLog(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(time.Second)

	report, err := r.Run(context.Background(), StageInvocation{
		BuildID:  "b1",
		Pipeline: "payments",
		Stage: stagegraph.Stage{
			Name:    "unit-test",
			Command: []string{"/bin/sh", "-c", "echo running tests; exit 3"},
		},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", report.ExitCode)
	}

	log, err := os.ReadFile(report.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(log), "running tests") {
		t.Fatalf("log missing output: %q", log)
	}
}

func TestExecRunnerResultFileProtocol(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(time.Second)

	report, err := r.Run(context.Background(), StageInvocation{
		BuildID:  "b1",
		Pipeline: "payments",
		Stage: stagegraph.Stage{
			Name:    "unit-test",
			Command: []string{"/bin/sh", "-c", `echo '{"pass_rate":100,"coverage_pct":91.5}' > "$CIFLOW_RESULT_FILE"`},
		},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != 0 {
		t.Fatalf("exit code = %d", report.ExitCode)
	}
	if report.Metrics.PassRate == nil || *report.Metrics.PassRate != 100 {
		t.Fatalf("metrics = %+v", report.Metrics)
	}
	if report.Metrics.CoveragePct == nil || *report.Metrics.CoveragePct != 91.5 {
		t.Fatalf("metrics = %+v", report.Metrics)
	}
	if report.Metrics.DurationMS < 0 {
		t.Fatalf("duration must be recorded")
	}
}

func TestExecRunnerExposesSandboxEnv(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(time.Second)
	dir := t.TempDir()

	report, err := r.Run(context.Background(), StageInvocation{
		BuildID:  "b1",
		Pipeline: "payments",
		Stage: stagegraph.Stage{
			Name:    "db-migrate",
			Command: []string{"/bin/sh", "-c", `echo "$CIFLOW_SANDBOX"; test -n "$CIFLOW_SANDBOX"`},
		},
		WorkDir: dir,
		Sandbox: "payments-db-01",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != 0 {
		t.Fatalf("sandbox env missing, exit code = %d", report.ExitCode)
	}

	log, _ := os.ReadFile(report.LogPath)
	if !strings.Contains(string(log), "payments-db-01") {
		t.Fatalf("log = %q", log)
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, _ = r.Run(ctx, StageInvocation{
		BuildID:  "b1",
		Pipeline: "payments",
		Stage: stagegraph.Stage{
			Name:    "system-test",
			Command: []string{"/bin/sh", "-c", "sleep 30"},
		},
		WorkDir: t.TempDir(),
	})
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("runner did not honor timeout, took %s", elapsed)
	}
}
