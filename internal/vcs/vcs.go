// Package vcs abstracts the version-control system a pipeline tracks. The
// engine only ever needs four operations from it: resolve the head revision,
// materialize a revision into a directory, compute the changeset between two
// revisions, and tag a revision with a promotion label.
package vcs

import (
	"context"

	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

// Changeset describes what changed between two revisions. Authors carry the
// committer identities used to address stage-failure feedback.
type Changeset struct {
	From    revision.Revision
	To      revision.Revision
	Files   []string
	Authors []string
}

// Collaborator is the engine's view of a version-control system.
type Collaborator interface {
	// Head resolves the current tip of the tracked ref.
	Head(ctx context.Context) (revision.Revision, error)

	// Materialize produces a clean working copy of rev under dir.
	Materialize(ctx context.Context, rev revision.Revision, dir string) error

	// Diff computes the changeset between two revisions. The from revision
	// is exclusive, to is inclusive.
	Diff(ctx context.Context, from, to revision.Revision) (Changeset, error)

	// TagLabel marks rev with a promotion label so the revision behind any
	// published artifact can be recovered from the repository alone.
	TagLabel(ctx context.Context, rev revision.Revision, label revision.Label) error
}
