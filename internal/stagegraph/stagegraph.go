// Package stagegraph models the static stage dependency graph of a pipeline
// and resolves it into ordered batches of concurrently runnable stages.
package stagegraph

import (
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
)

// Stage is one node of the graph: static per pipeline configuration, never
// created per build.
type Stage struct {
	Name      string
	Kind      string
	DependsOn []string
	Command   []string
	Env       map[string]string
	Timeout   time.Duration
	// FlakyTolerant stages may auto-retry a bounded number of times. All
	// other stages treat a failure as a true signal and never retry.
	FlakyTolerant bool
	MaxRetries    int
	// Gates evaluated as soon as this stage completes.
	Gates []string
	// SubBuild names the independently schedulable sub-graph this stage
	// belongs to, empty for top-level stages.
	SubBuild string
	// Master marks the aggregation stage fed by all sub-builds.
	Master bool
	// NeedsSandbox checks out an exclusive database sandbox for the stage.
	NeedsSandbox bool
}

// FromConfig converts pipeline configuration into graph stages, applying the
// executor's default timeout to stages without their own.
func FromConfig(p *config.Pipeline, defaultTimeout time.Duration) []Stage {
	stages := make([]Stage, 0, len(p.Stages))
	for i := range p.Stages {
		sc := &p.Stages[i]
		stages = append(stages, Stage{
			Name:          sc.Name,
			Kind:          sc.Kind,
			DependsOn:     append([]string(nil), sc.DependsOn...),
			Command:       append([]string(nil), sc.Command...),
			Env:           sc.Env,
			Timeout:       sc.TimeoutDuration(defaultTimeout),
			FlakyTolerant: sc.FlakyTolerant,
			MaxRetries:    sc.MaxRetries,
			Gates:         append([]string(nil), sc.Gates...),
			SubBuild:      sc.SubBuild,
			Master:        sc.Master,
			NeedsSandbox:  sc.NeedsSandbox,
		})
	}
	return stages
}

// Batch is a set of stages whose dependencies are all satisfied at the same
// point; its members are eligible to run concurrently.
type Batch []Stage

// Names returns the stage names of the batch in order.
func (b Batch) Names() []string {
	out := make([]string, len(b))
	for i, s := range b {
		out[i] = s.Name
	}
	return out
}

// SubBuilds groups stage names by their declared sub-build, skipping
// top-level stages. Each group is an independently resolvable sub-graph whose
// combined result feeds the master aggregation stage.
func SubBuilds(stages []Stage) map[string][]string {
	groups := make(map[string][]string)
	for _, s := range stages {
		if s.SubBuild != "" {
			groups[s.SubBuild] = append(groups[s.SubBuild], s.Name)
		}
	}
	return groups
}

// MasterStage returns the aggregation stage, if the pipeline declares one.
func MasterStage(stages []Stage) (Stage, bool) {
	for _, s := range stages {
		if s.Master {
			return s, true
		}
	}
	return Stage{}, false
}
