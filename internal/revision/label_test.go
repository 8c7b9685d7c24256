package revision

import "testing"

func TestLabelRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		want Label
	}{
		{"2_89.01", Label{Source: "2_89", Sequence: 1}},
		{"2_88.04", Label{Source: "2_88", Sequence: 4}},
		{"release-1.2.12", Label{Source: "release-1.2", Sequence: 12}},
	}
	for _, tc := range cases {
		got, err := ParseLabel(tc.in)
		if err != nil {
			t.Fatalf("ParseLabel(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseLabel(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
		if got.String() != tc.in {
			t.Fatalf("round trip %q -> %q", tc.in, got.String())
		}
	}
}

func TestLabelParseErrors(t *testing.T) {
	for _, in := range []string{"", "2_89", "2_89.", ".01", "2_89.zero", "2_89.00"} {
		if _, err := ParseLabel(in); err == nil {
			t.Fatalf("ParseLabel(%q): expected error", in)
		}
	}
}

func TestLabelNext(t *testing.T) {
	l := NewLabel("2_89")
	if l.String() != "2_89.01" {
		t.Fatalf("first label = %s", l)
	}
	if next := l.Next(); next.String() != "2_89.02" {
		t.Fatalf("next label = %s", next)
	}
}

func TestRevisionString(t *testing.T) {
	r := Revision{Ref: "main", Hash: "a1b2c3d4e5f6"}
	if r.String() != "main@a1b2c3d4" {
		t.Fatalf("revision string = %s", r)
	}
	if (Revision{Ref: "main"}).String() != "main" {
		t.Fatalf("hashless revision should render ref only")
	}
}
