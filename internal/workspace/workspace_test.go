package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireReleaseRemovesDir(t *testing.T) {
	m := NewManager(t.TempDir(), false)

	co, err := m.Acquire("build-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(co.Path); err != nil {
		t.Fatalf("checkout dir missing: %v", err)
	}

	if err := co.Release(false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(co.Path); !os.IsNotExist(err) {
		t.Fatalf("checkout dir should be removed, stat err = %v", err)
	}
}

func TestKeepFailedWorkspace(t *testing.T) {
	m := NewManager(t.TempDir(), true)

	co, err := m.Acquire("build-2")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := os.WriteFile(filepath.Join(co.Path, "stage.log"), []byte("boom"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := co.Release(true); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(co.Path); err != nil {
		t.Fatalf("failed build workspace should be kept: %v", err)
	}
}

func TestAcquireClearsStaleDir(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base, false)

	stale := filepath.Join(base, "builds", "build-3", "leftover.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	co, err := m.Acquire("build-3")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(filepath.Join(co.Path, "leftover.txt")); !os.IsNotExist(err) {
		t.Fatalf("stale file should be gone, stat err = %v", err)
	}
}

func TestSandboxPoolExclusivity(t *testing.T) {
	p := NewSandboxPool("payments", 1)
	ctx := context.Background()

	sb, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// Second checkout must block until the first is returned.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.Checkout(blocked); err == nil {
		t.Fatalf("second checkout should block while sandbox is held")
	}

	p.Checkin(sb)
	sb2, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout after checkin: %v", err)
	}
	if sb2.Name != sb.Name {
		t.Fatalf("expected the same sandbox back, got %s", sb2.Name)
	}
}

func TestEmptySandboxPoolFailsFast(t *testing.T) {
	p := NewSandboxPool("payments", 0)
	if _, err := p.Checkout(context.Background()); err == nil {
		t.Fatalf("zero-sized pool must not block forever")
	}
}
