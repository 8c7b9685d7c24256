package workspace

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
)

// Sandbox is one exclusively-held database sandbox. Stages that integrate
// against a real database check one out for the duration of the stage.
type Sandbox struct {
	Name string
}

// SandboxPool hands out sandboxes with mutual exclusion. Checkout blocks
// until a sandbox is free, so the pool size bounds database-stage
// concurrency.
type SandboxPool struct {
	free chan Sandbox
	size int
}

// NewSandboxPool creates a pool of n named sandboxes. A zero-sized pool is
// valid for pipelines without database stages; Checkout on it fails
// immediately rather than deadlocking.
func NewSandboxPool(pipeline string, n int) *SandboxPool {
	p := &SandboxPool{free: make(chan Sandbox, n), size: n}
	for i := 0; i < n; i++ {
		p.free <- Sandbox{Name: fmt.Sprintf("%s-db-%02d", pipeline, i+1)}
	}
	return p
}

// Checkout blocks until a sandbox is available or ctx is done. A nil pool
// behaves like an empty one so callers need not guard pipelines that never
// configured sandboxes.
func (p *SandboxPool) Checkout(ctx context.Context) (Sandbox, error) {
	if p == nil || p.size == 0 {
		return Sandbox{}, fmt.Errorf("no database sandboxes configured")
	}
	select {
	case sb := <-p.free:
		slog.Debug("Checked out sandbox", logfields.Sandbox(sb.Name))
		return sb, nil
	case <-ctx.Done():
		return Sandbox{}, ctx.Err()
	}
}

// Checkin returns a sandbox to the pool.
func (p *SandboxPool) Checkin(sb Sandbox) {
	if p == nil {
		return
	}
	select {
	case p.free <- sb:
		slog.Debug("Checked in sandbox", logfields.Sandbox(sb.Name))
	default:
		// Checking in a sandbox that was never checked out indicates a
		// caller bug; drop it rather than block.
		slog.Warn("Sandbox checkin overflow", logfields.Sandbox(sb.Name))
	}
}

// Size returns the pool capacity.
func (p *SandboxPool) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}
