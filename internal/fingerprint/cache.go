package fingerprint

import (
	"log/slog"
	"sync"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
)

// LockScope selects how wide the admission lock is.
type LockScope int

const (
	// ScopeFingerprint admits one active build per fingerprint (the default).
	ScopeFingerprint LockScope = iota
	// ScopeGlobal is sequential-integration mode: one active build total,
	// a team-wide mutual-exclusion lease over the admission path.
	ScopeGlobal
)

// Admission is the outcome of an admit call.
type Admission struct {
	// Accepted is true when the request produced a new Build.
	Accepted bool
	// Build is the admitted Build, or the existing in-flight Build the
	// request collapsed onto when Accepted is false.
	Build *build.Build
}

// Cache guarantees at-most-one concurrent execution per fingerprint.
// Concurrent requests for the same fingerprint collapse onto the existing
// build handle; all requesters observe the same terminal result.
type Cache struct {
	mu     sync.Mutex
	scope  LockScope
	active map[string]*build.Build
}

// NewCache creates a dedup cache with the given lock scope.
func NewCache(scope LockScope) *Cache {
	return &Cache{scope: scope, active: make(map[string]*build.Build)}
}

// Admit computes the request's fingerprint and either admits a new Build or
// returns the handle of the in-flight one. A stale entry (cached build
// already terminal) is treated as a miss, not a fatal error: it is logged as
// an inconsistency and the request is re-admitted.
func (c *Cache) Admit(req build.Request, env map[string]string) Admission {
	fp := Compute(req.Pipeline, req.Revision, req.Stages, env)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scope == ScopeGlobal {
		if existing := c.anyActiveLocked(); existing != nil && existing.Fingerprint != fp {
			return Admission{Accepted: false, Build: existing}
		}
	}

	if existing, ok := c.active[fp]; ok {
		if !existing.Terminal() {
			slog.Debug("Collapsing duplicate build request onto in-flight build",
				logfields.Fingerprint(fp), logfields.BuildID(existing.ID))
			return Admission{Accepted: false, Build: existing}
		}
		// Stale handle: the referenced build is no longer running. Re-admit.
		slog.Warn("Stale dedup cache entry, re-admitting",
			logfields.Fingerprint(fp), logfields.BuildID(existing.ID))
		delete(c.active, fp)
	}

	b := build.New(req, fp)
	c.active[fp] = b
	return Admission{Accepted: true, Build: b}
}

// Evict removes the entry once the referenced build reached a terminal state.
func (c *Cache) Evict(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, fp)
}

// Active returns handles of all non-terminal cached builds.
func (c *Cache) Active() []*build.Build {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*build.Build, 0, len(c.active))
	for _, b := range c.active {
		if !b.Terminal() {
			out = append(out, b)
		}
	}
	return out
}

// ActiveForPipeline returns non-terminal cached builds for one pipeline.
func (c *Cache) ActiveForPipeline(pipeline string) []*build.Build {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*build.Build
	for _, b := range c.active {
		if b.Pipeline == pipeline && !b.Terminal() {
			out = append(out, b)
		}
	}
	return out
}

func (c *Cache) anyActiveLocked() *build.Build {
	for _, b := range c.active {
		if !b.Terminal() {
			return b
		}
	}
	return nil
}
