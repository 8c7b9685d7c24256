package vcs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

func TestMemoryHeadAndDiff(t *testing.T) {
	m := NewMemory("main")
	ctx := context.Background()

	if _, err := m.Head(ctx); err == nil {
		t.Fatalf("expected error on empty history")
	}

	r1 := m.Commit(MemoryCommit{Hash: "aaa1", Author: "alice@example.com", Files: []string{"a.go"}})
	r2 := m.Commit(MemoryCommit{Hash: "bbb2", Author: "bob@example.com", Files: []string{"a.go", "b.go"}})

	head, err := m.Head(ctx)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Hash != "bbb2" {
		t.Fatalf("head = %s, want bbb2", head.Hash)
	}

	cs, err := m.Diff(ctx, r1, r2)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(cs.Authors) != 1 || cs.Authors[0] != "bob@example.com" {
		t.Fatalf("authors = %v, want [bob@example.com]", cs.Authors)
	}
	if len(cs.Files) != 2 {
		t.Fatalf("files = %v, want 2 entries", cs.Files)
	}
}

func TestMemoryTagLabel(t *testing.T) {
	m := NewMemory("main")
	rev := m.Commit(MemoryCommit{Hash: "ccc3", Author: "alice@example.com"})

	label := revision.Label{Source: "2_89", Sequence: 1}
	if err := m.TagLabel(context.Background(), rev, label); err != nil {
		t.Fatalf("TagLabel: %v", err)
	}
	if h, ok := m.Tag("2_89.01"); !ok || h != "ccc3" {
		t.Fatalf("tag 2_89.01 = %q,%v, want ccc3,true", h, ok)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg       string
		wantAuth  bool
		wantNF    bool
		wantRetry bool
	}{
		{msg: "authentication required", wantAuth: true},
		{msg: "repository not found", wantNF: true},
		{msg: "dial tcp: i/o timeout", wantRetry: true},
		{msg: "connection reset by peer", wantRetry: true},
		{msg: "something else entirely"},
	}
	for _, tt := range tests {
		err := classify("fetch", "https://example.com/r.git", fmt.Errorf("%s", tt.msg))

		var ae *AuthError
		if got := errors.As(err, &ae); got != tt.wantAuth {
			t.Errorf("%q: AuthError = %v, want %v", tt.msg, got, tt.wantAuth)
		}
		var nfe *NotFoundError
		if got := errors.As(err, &nfe); got != tt.wantNF {
			t.Errorf("%q: NotFoundError = %v, want %v", tt.msg, got, tt.wantNF)
		}
		if got := Retryable(err); got != tt.wantRetry {
			t.Errorf("%q: Retryable = %v, want %v", tt.msg, got, tt.wantRetry)
		}
	}
}
