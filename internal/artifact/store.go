// Package artifact implements the label-addressed artifact registry: the
// only supported path from a finished build to a deployable artifact.
package artifact

import (
	"context"
	"io"
)

// BlobStore provides label-addressed storage for build artifacts. Labels are
// unique per pipeline, so a blob is written at most once.
type BlobStore interface {
	// Put stores a blob under the pipeline-scoped label and returns its size.
	Put(ctx context.Context, pipeline, label string, src io.Reader) (int64, error)

	// Get retrieves a blob by label.
	// Returns ErrNotFound if no blob exists under the label.
	Get(ctx context.Context, pipeline, label string) (io.ReadCloser, error)

	// Exists checks whether a blob exists under the label.
	Exists(ctx context.Context, pipeline, label string) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound is returned when no blob exists under a label.
type ErrNotFound struct {
	Pipeline string
	Label    string
}

func (e ErrNotFound) Error() string {
	return "artifact not found: " + e.Pipeline + "/" + e.Label
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}
