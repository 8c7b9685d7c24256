package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/retry"
	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

// Record is one published artifact. Records are append-only: rollback
// repoints the active pointer, it never deletes.
type Record struct {
	Label       string            `json:"label"`
	BuildID     string            `json:"build_id"`
	Revision    revision.Revision `json:"revision"`
	Size        int64             `json:"size"`
	PublishedAt time.Time         `json:"published_at"`
}

// pipelineIndex is the per-pipeline slice of the persisted registry state.
type pipelineIndex struct {
	Records []Record `json:"records"`
	Active  string   `json:"active,omitempty"` // label the active pointer rests on
}

// Registry maps labels to published artifacts and tracks the active pointer
// per pipeline. The index is persisted as JSON next to the blobs so a daemon
// restart recovers the full promotion history.
type Registry struct {
	mu        sync.Mutex
	store     BlobStore
	indexPath string
	policy    retry.Policy
	pipelines map[string]*pipelineIndex
	// reserved holds labels handed to in-flight publishes, per pipeline, so
	// concurrent promotions never receive the same sequence.
	reserved map[string]map[string]bool
}

// NewRegistry loads (or creates) the registry index at dir/registry.json.
func NewRegistry(store BlobStore, dir string, policy retry.Policy) (*Registry, error) {
	r := &Registry{
		store:     store,
		indexPath: filepath.Join(dir, "registry.json"),
		policy:    policy,
		pipelines: map[string]*pipelineIndex{},
		reserved:  map[string]map[string]bool{},
	}
	data, err := os.ReadFile(r.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read registry index: %w", err)
	}
	if err := json.Unmarshal(data, &r.pipelines); err != nil {
		return nil, fmt.Errorf("parse registry index: %w", err)
	}
	return r, nil
}

// Publish stores the artifact of a promoted build and appends its record.
// Only promoted builds may publish; everything else is rejected. The label is
// derived from the source label: first publication for a source gets
// sequence 01, later ones increment.
func (r *Registry) Publish(ctx context.Context, b *build.Build, source string, content io.Reader) (Record, error) {
	if b.Status() != build.StatusPromoted {
		return Record{}, derrors.ArtifactStoreError("publish",
			fmt.Errorf("build %s is %s, only promoted builds publish", b.ID, b.Status()))
	}

	// The label stays reserved while the blob write runs so a concurrent
	// publish for the same pipeline is issued the next sequence, not this one.
	r.mu.Lock()
	label := r.nextLabelLocked(b.Pipeline, source)
	if r.reserved[b.Pipeline] == nil {
		r.reserved[b.Pipeline] = map[string]bool{}
	}
	r.reserved[b.Pipeline][label.String()] = true
	r.mu.Unlock()

	size, err := r.putWithRetry(ctx, b.Pipeline, label.String(), content)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved[b.Pipeline], label.String())
	if err != nil {
		return Record{}, derrors.ArtifactStoreError("publish", err)
	}

	rec := Record{
		Label:       label.String(),
		BuildID:     b.ID,
		Revision:    b.Revision,
		Size:        size,
		PublishedAt: time.Now(),
	}
	idx := r.index(b.Pipeline)
	idx.Records = append(idx.Records, rec)
	idx.Active = rec.Label
	if err := r.persistLocked(); err != nil {
		return Record{}, derrors.ArtifactStoreError("persist index", err)
	}

	slog.Info("Artifact published",
		logfields.Pipeline(b.Pipeline), logfields.Label(rec.Label), logfields.BuildID(b.ID))
	return rec, nil
}

// putWithRetry drives the blob write through the backoff policy; storage
// failures are treated as transient.
func (r *Registry) putWithRetry(ctx context.Context, pipeline, label string, content io.Reader) (int64, error) {
	// Buffer once so retries can replay the content.
	data, err := io.ReadAll(content)
	if err != nil {
		return 0, fmt.Errorf("read artifact content: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.policy.Delay(attempt)):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			slog.Warn("Retrying artifact store write",
				logfields.Pipeline(pipeline), logfields.Label(label), slog.Int("attempt", attempt))
		}
		size, err := r.store.Put(ctx, pipeline, label, bytes.NewReader(data))
		if err == nil {
			return size, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("store write exhausted retries: %w", lastErr)
}

// Rollback repoints the active pointer to an earlier published label. Rolling
// back to the already-active label is a no-op, not an error.
func (r *Registry) Rollback(pipeline, label string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(pipeline)
	for _, rec := range idx.Records {
		if rec.Label != label {
			continue
		}
		if idx.Active == label {
			slog.Info("Rollback target already active",
				logfields.Pipeline(pipeline), logfields.Label(label))
			return rec, nil
		}
		idx.Active = label
		if err := r.persistLocked(); err != nil {
			return Record{}, derrors.ArtifactStoreError("persist index", err)
		}
		slog.Info("Rolled back active artifact",
			logfields.Pipeline(pipeline), logfields.Label(label))
		return rec, nil
	}
	return Record{}, ErrNotFound{Pipeline: pipeline, Label: label}
}

// Lookup resolves a published label to its record.
func (r *Registry) Lookup(pipeline, label string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.index(pipeline).Records {
		if rec.Label == label {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound{Pipeline: pipeline, Label: label}
}

// Active returns the record the active pointer rests on.
func (r *Registry) Active(pipeline string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(pipeline)
	for _, rec := range idx.Records {
		if rec.Label == idx.Active {
			return rec, true
		}
	}
	return Record{}, false
}

// History returns all published records for a pipeline, oldest first.
func (r *Registry) History(pipeline string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(pipeline)
	out := make([]Record, len(idx.Records))
	copy(out, idx.Records)
	return out
}

// Fetch opens the blob behind a published label.
func (r *Registry) Fetch(ctx context.Context, pipeline, label string) (io.ReadCloser, error) {
	return r.store.Get(ctx, pipeline, label)
}

// nextLabelLocked computes the next label for a source: the highest sequence
// among published and reserved labels for the same source, plus one.
func (r *Registry) nextLabelLocked(pipeline, source string) revision.Label {
	max := 0
	bump := func(label string) {
		l, err := revision.ParseLabel(label)
		if err != nil || l.Source != source {
			return
		}
		if l.Sequence > max {
			max = l.Sequence
		}
	}
	for _, rec := range r.index(pipeline).Records {
		bump(rec.Label)
	}
	for label := range r.reserved[pipeline] {
		bump(label)
	}
	return revision.Label{Source: source, Sequence: max + 1}
}

func (r *Registry) index(pipeline string) *pipelineIndex {
	idx, ok := r.pipelines[pipeline]
	if !ok {
		idx = &pipelineIndex{}
		r.pipelines[pipeline] = idx
	}
	return idx
}

func (r *Registry) persistLocked() error {
	data, err := json.MarshalIndent(r.pipelines, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, r.indexPath)
}
