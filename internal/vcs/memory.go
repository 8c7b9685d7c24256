package vcs

import (
	"context"
	"fmt"
	"sync"

	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

// Memory is an in-process Collaborator used by tests and dry runs. It holds a
// linear history per ref and records tag operations.
type Memory struct {
	mu      sync.Mutex
	ref     string
	history []MemoryCommit
	tags    map[string]string // label -> hash
}

// MemoryCommit is one entry in the fake history, oldest first.
type MemoryCommit struct {
	Hash   string
	Author string
	Files  []string
}

// NewMemory creates an empty fake repository tracking ref.
func NewMemory(ref string) *Memory {
	return &Memory{ref: ref, tags: map[string]string{}}
}

// Commit appends a commit and returns its revision.
func (m *Memory) Commit(c MemoryCommit) revision.Revision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, c)
	return revision.Revision{Ref: m.ref, Hash: c.Hash}
}

func (m *Memory) Head(ctx context.Context) (revision.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return revision.Revision{}, &NotFoundError{Op: "head", URL: "memory",
			Err: fmt.Errorf("empty history")}
	}
	return revision.Revision{Ref: m.ref, Hash: m.history[len(m.history)-1].Hash}, nil
}

func (m *Memory) Materialize(ctx context.Context, rev revision.Revision, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.history {
		if c.Hash == rev.Hash {
			return nil
		}
	}
	return &NotFoundError{Op: "materialize", URL: "memory",
		Err: fmt.Errorf("unknown revision %s", rev.Hash)}
}

func (m *Memory) Diff(ctx context.Context, from, to revision.Revision) (Changeset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := Changeset{From: from, To: to}
	inRange := from.Hash == ""
	seenAuthor := map[string]bool{}
	seenFile := map[string]bool{}
	for _, c := range m.history {
		if inRange {
			if !seenAuthor[c.Author] {
				seenAuthor[c.Author] = true
				cs.Authors = append(cs.Authors, c.Author)
			}
			for _, f := range c.Files {
				if !seenFile[f] {
					seenFile[f] = true
					cs.Files = append(cs.Files, f)
				}
			}
		}
		if c.Hash == from.Hash {
			inRange = true
		}
		if c.Hash == to.Hash {
			break
		}
	}
	return cs, nil
}

func (m *Memory) TagLabel(ctx context.Context, rev revision.Revision, label revision.Label) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[label.String()] = rev.Hash
	return nil
}

// Tag returns the hash a label points to, if any.
func (m *Memory) Tag(label string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.tags[label]
	return h, ok
}
