// Package revision defines immutable identifiers for versioned source snapshots
// and the artifact labels derived from them.
package revision

// Revision identifies a set of tracked assets: a VCS reference plus the content
// hash it resolved to. Values are immutable; the VCS collaborator produces them.
type Revision struct {
	Ref  string `json:"ref" yaml:"ref"`
	Hash string `json:"hash" yaml:"hash"`
}

// String renders ref@shorthash for logs and labels.
func (r Revision) String() string {
	if r.Hash == "" {
		return r.Ref
	}
	return r.Ref + "@" + r.ShortHash()
}

// ShortHash returns the first 8 characters of the content hash.
func (r Revision) ShortHash() string {
	if len(r.Hash) <= 8 {
		return r.Hash
	}
	return r.Hash[:8]
}

// IsZero reports whether the revision is unset.
func (r Revision) IsZero() bool { return r.Ref == "" && r.Hash == "" }
