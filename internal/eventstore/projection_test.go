package eventstore

import (
	"context"
	"testing"
)

func apply(t *testing.T, p *BuildHistoryProjection, ev Event, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("event constructor: %v", err)
	}
	p.Apply(ev)
}

func TestProjectionBuildLifecycle(t *testing.T) {
	p := NewBuildHistoryProjection(newTestStore(t), 10)

	ev1, err1 := NewBuildQueued("b1", "payments", "fp1", "main@abcd1234", "webhook")
	apply(t, p, ev1, err1)

	summary, ok := p.GetBuild("b1")
	if !ok || summary.Status != "queued" {
		t.Fatalf("after queue: %+v, %v", summary, ok)
	}
	if summary.Fingerprint != "fp1" || summary.Trigger != "webhook" {
		t.Fatalf("queue payload not applied: %+v", summary)
	}

	ev2, err2 := NewBuildStarted("b1", "payments", "main@abcd1234", 4)
	apply(t, p, ev2, err2)
	summary, _ = p.GetBuild("b1")
	if summary.Status != "running" || summary.StageCount != 4 {
		t.Fatalf("after start: %+v", summary)
	}

	ev3, err3 := NewBuildPromoted("b1", "payments", "main@abcd1234", "2_89.01")
	apply(t, p, ev3, err3)
	summary, _ = p.GetBuild("b1")
	if summary.Status != "promoted" || summary.Label != "2_89.01" {
		t.Fatalf("after promote: %+v", summary)
	}
	if summary.CompletedAt == nil {
		t.Fatalf("promoted build should have completion time")
	}

	history := p.GetHistory()
	if len(history) != 1 || history[0].BuildID != "b1" {
		t.Fatalf("history = %+v", history)
	}
}

func TestProjectionFailedAndBlocked(t *testing.T) {
	p := NewBuildHistoryProjection(newTestStore(t), 10)

	ev1, err1 := NewBuildQueued("b1", "payments", "fp1", "r1", "manual")
	apply(t, p, ev1, err1)
	ev2, err2 := NewBuildFailed("b1", "payments", "unit-test", "3 tests failed")
	apply(t, p, ev2, err2)

	summary, _ := p.GetBuild("b1")
	if summary.Status != "failed" || summary.ErrorStage != "unit-test" {
		t.Fatalf("failed build: %+v", summary)
	}

	ev3, err3 := NewBuildQueued("b2", "payments", "fp2", "r2", "manual")
	apply(t, p, ev3, err3)
	ev4, err4 := NewBuildBlocked("b2", "payments", "coverage-floor", "84.9% < 85.0%")
	apply(t, p, ev4, err4)

	summary, _ = p.GetBuild("b2")
	if summary.Status != "blocked" || summary.BlockedGate != "coverage-floor" {
		t.Fatalf("blocked build: %+v", summary)
	}
}

func TestProjectionPipelineHistory(t *testing.T) {
	p := NewBuildHistoryProjection(newTestStore(t), 10)

	ev1, err1 := NewBuildQueued("b1", "payments", "fp1", "r1", "manual")
	apply(t, p, ev1, err1)
	ev2, err2 := NewBuildCancelled("b1", "payments", "superseded by b3")
	apply(t, p, ev2, err2)
	ev3, err3 := NewBuildQueued("b2", "inventory", "fp2", "r2", "manual")
	apply(t, p, ev3, err3)
	ev4, err4 := NewBuildPromoted("b2", "inventory", "r2", "1_01.01")
	apply(t, p, ev4, err4)

	payments := p.PipelineHistory("payments")
	if len(payments) != 1 || payments[0].Status != "cancelled" {
		t.Fatalf("payments history = %+v", payments)
	}
	if payments[0].CancelReason != "superseded by b3" {
		t.Fatalf("cancel reason = %q", payments[0].CancelReason)
	}
	inventory := p.PipelineHistory("inventory")
	if len(inventory) != 1 || inventory[0].Label != "1_01.01" {
		t.Fatalf("inventory history = %+v", inventory)
	}
}

func TestProjectionRebuildFromStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev1, _ := NewBuildQueued("b1", "payments", "fp1", "r1", "poll")
	if err := store.Append(ctx, ev1.BuildID(), ev1.Pipeline(), ev1.Type(), ev1.Payload(), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ev2, _ := NewBuildPromoted("b1", "payments", "r1", "2_89.01")
	if err := store.Append(ctx, ev2.BuildID(), ev2.Pipeline(), ev2.Type(), ev2.Payload(), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	p := NewBuildHistoryProjection(store, 10)
	if err := p.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	summary, ok := p.GetBuild("b1")
	if !ok || summary.Status != "promoted" || summary.Label != "2_89.01" {
		t.Fatalf("rebuilt summary = %+v, %v", summary, ok)
	}
}

func TestProjectionHistoryBounded(t *testing.T) {
	p := NewBuildHistoryProjection(newTestStore(t), 2)

	for _, id := range []string{"b1", "b2", "b3"} {
		ev1, err1 := NewBuildQueued(id, "payments", "fp-"+id, "r", "manual")
		apply(t, p, ev1, err1)
		ev2, err2 := NewBuildFailed(id, "payments", "compile", "boom")
		apply(t, p, ev2, err2)
	}

	if got := len(p.GetHistory()); got != 2 {
		t.Fatalf("history length = %d, want 2", got)
	}
}

func TestProjectionActiveBuilds(t *testing.T) {
	p := NewBuildHistoryProjection(newTestStore(t), 10)

	ev1, err1 := NewBuildQueued("b1", "payments", "fp1", "r1", "manual")
	apply(t, p, ev1, err1)
	ev2, err2 := NewBuildQueued("b2", "payments", "fp2", "r2", "manual")
	apply(t, p, ev2, err2)
	ev3, err3 := NewBuildPromoted("b2", "payments", "r2", "1_01.01")
	apply(t, p, ev3, err3)

	active := p.ActiveBuilds()
	if len(active) != 1 || active[0].BuildID != "b1" {
		t.Fatalf("active = %+v", active)
	}
}
