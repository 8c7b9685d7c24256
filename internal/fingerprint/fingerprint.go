// Package fingerprint computes deterministic build fingerprints and enforces
// at-most-one active build per fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

// Compute derives the deterministic fingerprint for a build request: a
// sha256 over the revision, the sorted requested stage set, and the sorted
// environment configuration. Identical inputs always collapse to the same
// fingerprint regardless of map or slice ordering.
func Compute(pipeline string, rev revision.Revision, stages []string, env map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "pipeline=%s\n", pipeline)
	fmt.Fprintf(h, "revision=%s:%s\n", rev.Ref, rev.Hash)

	sortedStages := make([]string, len(stages))
	copy(sortedStages, stages)
	sort.Strings(sortedStages)
	for _, s := range sortedStages {
		fmt.Fprintf(h, "stage=%s\n", s)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "env=%s=%s\n", k, env[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}
