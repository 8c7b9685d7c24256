package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore is a BlobStore backed by the local filesystem. Blobs land under
// root/<pipeline>/<label> via a temp-file rename so readers never observe a
// partial write.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at root.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(pipeline, label string) string {
	return filepath.Join(s.root, pipeline, label)
}

// Put stores a blob under the pipeline-scoped label and returns its size.
func (s *FSStore) Put(ctx context.Context, pipeline, label string, src io.Reader) (int64, error) {
	dir := filepath.Join(s.root, pipeline)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create pipeline dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+label+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(pipeline, label)); err != nil {
		return 0, fmt.Errorf("publish blob: %w", err)
	}
	return n, nil
}

// Get retrieves a blob by label.
func (s *FSStore) Get(ctx context.Context, pipeline, label string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(pipeline, label))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound{Pipeline: pipeline, Label: label}
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Exists checks whether a blob exists under the label.
func (s *FSStore) Exists(ctx context.Context, pipeline, label string) (bool, error) {
	_, err := os.Stat(s.path(pipeline, label))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}

// Close is a no-op for the filesystem store.
func (s *FSStore) Close() error { return nil }
