// Package workspace manages per-build checkout directories and the pool of
// exclusive database sandboxes.
//
// Every running build gets its own directory under the workspace root so
// concurrent builds never share a checkout. Directories of successful builds
// are removed on release; failed builds can optionally be kept for debugging.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
)

// Manager hands out build-scoped checkout directories.
type Manager struct {
	baseDir    string
	keepFailed bool
}

// NewManager creates a manager rooted at baseDir. When keepFailed is set,
// directories of failed builds survive release for post-mortem inspection.
func NewManager(baseDir string, keepFailed bool) *Manager {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "ciflow")
	}
	return &Manager{baseDir: baseDir, keepFailed: keepFailed}
}

// Checkout is one build's private working directory.
type Checkout struct {
	BuildID string
	Path    string

	mgr *Manager
}

// Acquire creates a fresh directory scoped to the build. An existing
// directory for the same build is removed first.
func (m *Manager) Acquire(buildID string) (*Checkout, error) {
	path := filepath.Join(m.baseDir, "builds", buildID)
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to clear build directory: %w", err)
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}
	slog.Debug("Acquired build workspace", logfields.BuildID(buildID), logfields.Path(path))
	return &Checkout{BuildID: buildID, Path: path, mgr: m}, nil
}

// Release disposes of the checkout. failed reports how the build ended; a
// failed checkout is kept when the manager was configured to do so.
func (c *Checkout) Release(failed bool) error {
	if failed && c.mgr.keepFailed {
		slog.Info("Keeping workspace of failed build",
			logfields.BuildID(c.BuildID), logfields.Path(c.Path))
		return nil
	}
	if err := os.RemoveAll(c.Path); err != nil {
		return fmt.Errorf("failed to remove build directory: %w", err)
	}
	slog.Debug("Released build workspace", logfields.BuildID(c.BuildID))
	return nil
}

// Root returns the workspace base directory.
func (m *Manager) Root() string {
	return m.baseDir
}
