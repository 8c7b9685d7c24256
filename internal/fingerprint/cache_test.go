package fingerprint

import (
	"sync"
	"testing"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

func testRequest(pipeline, hash string) build.Request {
	return build.Request{
		Pipeline: pipeline,
		Revision: revision.Revision{Ref: "main", Hash: hash},
		Trigger:  build.TriggerManual,
	}
}

func TestComputeDeterministic(t *testing.T) {
	rev := revision.Revision{Ref: "main", Hash: "abc123"}
	a := Compute("default", rev, []string{"unit-test", "compile"}, map[string]string{"A": "1", "B": "2"})
	b := Compute("default", rev, []string{"compile", "unit-test"}, map[string]string{"B": "2", "A": "1"})
	if a != b {
		t.Fatalf("fingerprint must be order independent: %s != %s", a, b)
	}

	c := Compute("default", rev, []string{"compile"}, nil)
	if a == c {
		t.Fatalf("different stage sets must not collide")
	}
	d := Compute("other", rev, []string{"unit-test", "compile"}, map[string]string{"A": "1", "B": "2"})
	if a == d {
		t.Fatalf("different pipelines must not collide")
	}
}

func TestAdmitCollapsesDuplicates(t *testing.T) {
	cache := NewCache(ScopeFingerprint)

	first := cache.Admit(testRequest("default", "abc"), nil)
	if !first.Accepted {
		t.Fatalf("first request should be accepted")
	}

	second := cache.Admit(testRequest("default", "abc"), nil)
	if second.Accepted {
		t.Fatalf("duplicate request should collapse")
	}
	if second.Build != first.Build {
		t.Fatalf("duplicate should return the same build handle")
	}
}

func TestAdmitConcurrentExactlyOne(t *testing.T) {
	cache := NewCache(ScopeFingerprint)

	var wg sync.WaitGroup
	results := make([]Admission, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.Admit(testRequest("default", "abc"), nil)
		}(i)
	}
	wg.Wait()

	accepted := 0
	var handle *build.Build
	for _, r := range results {
		if r.Accepted {
			accepted++
			handle = r.Build
		}
	}
	if accepted != 1 {
		t.Fatalf("exactly one request should execute, got %d", accepted)
	}
	for _, r := range results {
		if r.Build != handle {
			t.Fatalf("all requesters must observe the same build")
		}
	}
}

func TestStaleEntryTreatedAsMiss(t *testing.T) {
	cache := NewCache(ScopeFingerprint)

	first := cache.Admit(testRequest("default", "abc"), nil)
	// Build terminates but eviction never happened (simulated corruption).
	if err := first.Build.MarkRunning(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := first.Build.Finish(build.StatusFailed); err != nil {
		t.Fatal(err)
	}

	second := cache.Admit(testRequest("default", "abc"), nil)
	if !second.Accepted {
		t.Fatalf("stale entry must be treated as a miss")
	}
	if second.Build == first.Build {
		t.Fatalf("re-admission must produce a fresh build")
	}
}

func TestEvictAllowsReadmission(t *testing.T) {
	cache := NewCache(ScopeFingerprint)
	first := cache.Admit(testRequest("default", "abc"), nil)
	cache.Evict(first.Build.Fingerprint)

	second := cache.Admit(testRequest("default", "abc"), nil)
	if !second.Accepted {
		t.Fatalf("evicted fingerprint should admit a new build")
	}
}

func TestGlobalScopeSequentialAdmission(t *testing.T) {
	cache := NewCache(ScopeGlobal)

	first := cache.Admit(testRequest("alpha", "abc"), nil)
	if !first.Accepted {
		t.Fatalf("first admission should succeed")
	}

	// A different pipeline and fingerprint still collapses in sequential mode.
	second := cache.Admit(testRequest("beta", "def"), nil)
	if second.Accepted {
		t.Fatalf("sequential mode admits one build at a time")
	}
	if second.Build != first.Build {
		t.Fatalf("rejected request should receive the holder's handle")
	}

	if err := first.Build.MarkRunning(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := first.Build.Finish(build.StatusPromoted); err != nil {
		t.Fatal(err)
	}
	cache.Evict(first.Build.Fingerprint)

	third := cache.Admit(testRequest("beta", "def"), nil)
	if !third.Accepted {
		t.Fatalf("lease should be free after terminal eviction")
	}
}

func TestActiveForPipeline(t *testing.T) {
	cache := NewCache(ScopeFingerprint)
	a := cache.Admit(testRequest("alpha", "abc"), nil)
	cache.Admit(testRequest("beta", "def"), nil)

	got := cache.ActiveForPipeline("alpha")
	if len(got) != 1 || got[0] != a.Build {
		t.Fatalf("ActiveForPipeline returned %d builds", len(got))
	}
}
