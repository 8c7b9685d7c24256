package revision

import (
	"fmt"
	"strconv"
	"strings"
)

// Label is an immutable artifact label: the source revision label plus a
// two-digit build sequence suffix, e.g. "2_89.01". Once issued a label is
// permanently bound to exactly one revision and build.
type Label struct {
	Source   string // revision label, e.g. "2_89"
	Sequence int    // build sequence for that revision label, 1-based
}

// NewLabel constructs the first label for a revision label.
func NewLabel(source string) Label {
	return Label{Source: source, Sequence: 1}
}

// ParseLabel parses "source.NN" back into a Label.
func ParseLabel(s string) (Label, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return Label{}, fmt.Errorf("malformed artifact label %q: want <source>.<sequence>", s)
	}
	seq, err := strconv.Atoi(s[idx+1:])
	if err != nil || seq <= 0 {
		return Label{}, fmt.Errorf("malformed artifact label %q: bad sequence", s)
	}
	return Label{Source: s[:idx], Sequence: seq}, nil
}

// String renders the label with a zero-padded sequence ("2_89.01").
func (l Label) String() string {
	return fmt.Sprintf("%s.%02d", l.Source, l.Sequence)
}

// Next returns the following label for the same source revision label.
func (l Label) Next() Label {
	return Label{Source: l.Source, Sequence: l.Sequence + 1}
}

// IsZero reports whether the label is unset.
func (l Label) IsZero() bool { return l.Source == "" && l.Sequence == 0 }

// MarshalText implements encoding.TextMarshaler so labels serialize as their
// string form in JSON and YAML.
func (l Label) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(b []byte) error {
	parsed, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
