package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/vcs"
)

type captureSubmitter struct {
	mu   sync.Mutex
	reqs []build.Request
}

func (c *captureSubmitter) Submit(ctx context.Context, req build.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return nil
}

func (c *captureSubmitter) submitted() []build.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]build.Request, len(c.reqs))
	copy(out, c.reqs)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestPollerSubmitsOnNewRevision(t *testing.T) {
	repo := vcs.NewMemory("main")
	repo.Commit(vcs.MemoryCommit{Hash: "aaa1", Author: "alice@example.com"})

	sub := &captureSubmitter{}
	p := NewPoller("payments", 10*time.Millisecond, repo, sub)
	p.Start()
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool { return len(sub.submitted()) == 1 })

	reqs := sub.submitted()
	if reqs[0].Pipeline != "payments" || reqs[0].Trigger != build.TriggerPoll {
		t.Fatalf("request = %+v", reqs[0])
	}
	if reqs[0].Revision.Hash != "aaa1" {
		t.Fatalf("revision = %+v", reqs[0].Revision)
	}

	// Unchanged head submits nothing further.
	time.Sleep(50 * time.Millisecond)
	if got := len(sub.submitted()); got != 1 {
		t.Fatalf("submissions = %d, want 1 while head unchanged", got)
	}

	// A new commit fires again.
	repo.Commit(vcs.MemoryCommit{Hash: "bbb2", Author: "bob@example.com"})
	waitFor(t, 2*time.Second, func() bool { return len(sub.submitted()) == 2 })
}

func TestSchedulerFiresAtHead(t *testing.T) {
	repo := vcs.NewMemory("main")
	repo.Commit(vcs.MemoryCommit{Hash: "ccc3", Author: "alice@example.com"})

	sub := &captureSubmitter{}
	s, err := NewScheduler(sub)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if _, err := s.SchedulePipeline("payments", 20*time.Millisecond, repo); err != nil {
		t.Fatalf("SchedulePipeline: %v", err)
	}
	s.Start()
	defer func() { _ = s.Stop() }()

	waitFor(t, 3*time.Second, func() bool { return len(sub.submitted()) >= 1 })

	req := sub.submitted()[0]
	if req.Trigger != build.TriggerScheduled || req.Revision.Hash != "ccc3" {
		t.Fatalf("request = %+v", req)
	}
}
