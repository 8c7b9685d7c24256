package stagegraph

import (
	"testing"

	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
)

func stage(name string, deps ...string) Stage {
	return Stage{Name: name, Kind: "compile", DependsOn: deps}
}

func batchNames(batches []Batch) [][]string {
	out := make([][]string, len(batches))
	for i, b := range batches {
		out[i] = b.Names()
	}
	return out
}

func TestResolveLinearChain(t *testing.T) {
	stages := []Stage{
		stage("compile"),
		stage("unit-test", "compile"),
		stage("deploy", "unit-test"),
	}
	batches, err := Resolve("default", stages, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := batchNames(batches)
	want := [][]string{{"compile"}, {"unit-test"}, {"deploy"}}
	if len(got) != len(want) {
		t.Fatalf("batches = %v", got)
	}
	for i := range want {
		if len(got[i]) != len(want[i]) || got[i][0] != want[i][0] {
			t.Fatalf("batch %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResolveConcurrentBatch(t *testing.T) {
	stages := []Stage{
		stage("compile"),
		stage("unit-test", "compile"),
		stage("inspect", "compile"),
		stage("deploy", "unit-test", "inspect"),
	}
	batches, err := Resolve("default", stages, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %v", batchNames(batches))
	}
	mid := batches[1].Names()
	if len(mid) != 2 || mid[0] != "inspect" || mid[1] != "unit-test" {
		t.Fatalf("middle batch = %v, want deterministic [inspect unit-test]", mid)
	}
}

func TestResolveNeverViolatesDependencyEdges(t *testing.T) {
	stages := []Stage{
		stage("a"),
		stage("b", "a"),
		stage("c", "a"),
		stage("d", "b"),
		stage("e", "b", "c"),
		stage("f", "d", "e"),
	}
	batches, err := Resolve("default", stages, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	position := make(map[string]int)
	for i, b := range batches {
		for _, s := range b {
			position[s.Name] = i
		}
	}
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if position[dep] >= position[s.Name] {
				t.Fatalf("dependency %s of %s scheduled at batch %d >= %d",
					dep, s.Name, position[dep], position[s.Name])
			}
		}
	}
}

func TestResolveRequestedSubsetPullsDependencies(t *testing.T) {
	stages := []Stage{
		stage("compile"),
		stage("unit-test", "compile"),
		stage("system-test", "unit-test"),
		stage("deploy", "system-test"),
	}
	batches, err := Resolve("default", stages, []string{"unit-test"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := batchNames(batches)
	if len(got) != 2 || got[0][0] != "compile" || got[1][0] != "unit-test" {
		t.Fatalf("subset resolve = %v", got)
	}
}

func TestResolveDetectsCycle(t *testing.T) {
	stages := []Stage{
		stage("compile", "deploy"),
		stage("unit-test", "compile"),
		stage("deploy", "unit-test"),
	}
	_, err := Resolve("default", stages, nil)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !derrors.IsCategory(err, derrors.CategoryGraph) {
		t.Fatalf("expected graph category, got %v", err)
	}
	pe := err.(*derrors.PipelineError)
	if pe.Context["stage"] == "" {
		t.Fatalf("cycle error should name an involved stage: %v", pe.Context)
	}
}

func TestResolveUnknownRequestedStage(t *testing.T) {
	stages := []Stage{stage("compile")}
	if _, err := Resolve("default", stages, []string{"nonexistent"}); err == nil {
		t.Fatalf("expected unknown stage error")
	}
}

func TestSubBuildsGrouping(t *testing.T) {
	stages := []Stage{
		{Name: "core-compile", SubBuild: "core"},
		{Name: "core-test", SubBuild: "core", DependsOn: []string{"core-compile"}},
		{Name: "api-compile", SubBuild: "api"},
		{Name: "master", Master: true, DependsOn: []string{"core-test", "api-compile"}},
	}
	groups := SubBuilds(stages)
	if len(groups) != 2 || len(groups["core"]) != 2 || len(groups["api"]) != 1 {
		t.Fatalf("sub-build groups = %v", groups)
	}
	master, ok := MasterStage(stages)
	if !ok || master.Name != "master" {
		t.Fatalf("master stage = %v, ok=%v", master, ok)
	}
}
