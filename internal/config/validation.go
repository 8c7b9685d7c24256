package config

import (
	"fmt"
	"time"

	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
)

// Stage kinds the executor understands. The engine only respects dependency
// order; scheduling cheap kinds first is a configuration convention.
const (
	KindCompile       = "compile"
	KindUnitTest      = "unit-test"
	KindComponentTest = "component-test"
	KindSystemTest    = "system-test"
	KindInspect       = "inspect"
	KindDBIntegrate   = "db-integrate"
	KindDeploy        = "deploy"
)

// Built-in gate types.
const (
	GateFullPass       = "full-pass"
	GateCoverageFloor  = "coverage-floor"
	GateZeroHighSev    = "zero-high-severity"
	GateMaxDuration    = "max-duration"
	GateMaxDuplication = "max-duplication"
	GateMaxCoupling    = "max-coupling"
)

var knownStageKinds = map[string]bool{
	KindCompile: true, KindUnitTest: true, KindComponentTest: true,
	KindSystemTest: true, KindInspect: true, KindDBIntegrate: true, KindDeploy: true,
}

var knownGateTypes = map[string]bool{
	GateFullPass: true, GateCoverageFloor: true, GateZeroHighSev: true,
	GateMaxDuration: true, GateMaxDuplication: true, GateMaxCoupling: true,
}

// Channel plugin types.
const (
	ChannelLog     = "log"
	ChannelMail    = "mail"
	ChannelNATS    = "nats"
	ChannelWebhook = "webhook"
)

var knownChannelTypes = map[string]bool{
	ChannelLog: true, ChannelMail: true, ChannelNATS: true, ChannelWebhook: true,
}

// Validate performs the structural validation pass. Cyclic dependencies are
// detected later at graph resolve time; everything checkable from the raw
// declaration is checked here so bad configuration never reaches execution.
func (c *Config) Validate() error {
	if len(c.Pipelines) == 0 {
		return derrors.ConfigRequired("pipelines")
	}

	if _, err := time.ParseDuration(c.Executor.StageTimeout); err != nil {
		return derrors.ValidationFailed("executor.stage_timeout", err.Error())
	}
	if _, err := time.ParseDuration(c.Executor.GracePeriod); err != nil {
		return derrors.ValidationFailed("executor.grace_period", err.Error())
	}
	if c.Executor.RetryBackoff != "" && NormalizeRetryBackoff(string(c.Executor.RetryBackoff)) == "" {
		return derrors.ValidationFailed("executor.retry_backoff", fmt.Sprintf("unknown mode %q", c.Executor.RetryBackoff))
	}

	seenPipelines := make(map[string]bool)
	for i := range c.Pipelines {
		p := &c.Pipelines[i]
		if p.Name == "" {
			return derrors.ConfigRequired(fmt.Sprintf("pipelines[%d].name", i))
		}
		if seenPipelines[p.Name] {
			return derrors.ValidationFailed("pipelines", fmt.Sprintf("duplicate pipeline name %q", p.Name))
		}
		seenPipelines[p.Name] = true
		if err := validatePipeline(p); err != nil {
			return err
		}
	}

	seenChannels := make(map[string]bool)
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Name == "" {
			return derrors.ConfigRequired(fmt.Sprintf("channels[%d].name", i))
		}
		if seenChannels[ch.Name] {
			return derrors.ValidationFailed("channels", fmt.Sprintf("duplicate channel name %q", ch.Name))
		}
		seenChannels[ch.Name] = true
		if !knownChannelTypes[ch.Type] {
			return derrors.ValidationFailed(fmt.Sprintf("channels.%s.type", ch.Name), fmt.Sprintf("unknown channel type %q", ch.Type))
		}
		if ch.Type == "mail" && (ch.SMTP == nil || ch.SMTP.Host == "" || len(ch.SMTP.To) == 0) {
			return derrors.ValidationFailed(fmt.Sprintf("channels.%s.smtp", ch.Name), "mail channel requires smtp host and recipients")
		}
		if (ch.Type == "nats" || ch.Type == "webhook") && ch.URL == "" {
			return derrors.ValidationFailed(fmt.Sprintf("channels.%s.url", ch.Name), ch.Type+" channel requires a url")
		}
	}

	return nil
}

func validatePipeline(p *Pipeline) error {
	if p.Repo.URL == "" {
		return derrors.ConfigRequired(fmt.Sprintf("pipelines.%s.repo.url", p.Name))
	}
	if len(p.Stages) == 0 {
		return derrors.ConfigRequired(fmt.Sprintf("pipelines.%s.stages", p.Name))
	}

	gateNames := make(map[string]bool)
	for i := range p.Gates {
		g := &p.Gates[i]
		if g.Name == "" {
			return derrors.ConfigRequired(fmt.Sprintf("pipelines.%s.gates[%d].name", p.Name, i))
		}
		if gateNames[g.Name] {
			return derrors.ValidationFailed("gates", fmt.Sprintf("duplicate gate %q in pipeline %q", g.Name, p.Name))
		}
		gateNames[g.Name] = true
		if !knownGateTypes[g.Type] {
			return derrors.ValidationFailed(fmt.Sprintf("pipelines.%s.gates.%s", p.Name, g.Name), fmt.Sprintf("unknown gate type %q", g.Type))
		}
	}

	stageNames := make(map[string]bool)
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.Name == "" {
			return derrors.ConfigRequired(fmt.Sprintf("pipelines.%s.stages[%d].name", p.Name, i))
		}
		if stageNames[s.Name] {
			return derrors.ValidationFailed("stages", fmt.Sprintf("duplicate stage %q in pipeline %q", s.Name, p.Name))
		}
		stageNames[s.Name] = true
		if !knownStageKinds[s.Kind] {
			return derrors.ValidationFailed(fmt.Sprintf("pipelines.%s.stages.%s.kind", p.Name, s.Name), fmt.Sprintf("unknown stage kind %q", s.Kind))
		}
		if len(s.Command) == 0 {
			return derrors.ConfigRequired(fmt.Sprintf("pipelines.%s.stages.%s.command", p.Name, s.Name))
		}
		if s.Timeout != "" {
			if _, err := time.ParseDuration(s.Timeout); err != nil {
				return derrors.ValidationFailed(fmt.Sprintf("pipelines.%s.stages.%s.timeout", p.Name, s.Name), err.Error())
			}
		}
		if s.Master && s.SubBuild != "" {
			return derrors.ValidationFailed(fmt.Sprintf("pipelines.%s.stages.%s", p.Name, s.Name), "master stage cannot belong to a sub-build")
		}
		if s.NeedsSandbox && p.Sandbox.Databases <= 0 {
			return derrors.ValidationFailed(fmt.Sprintf("pipelines.%s.stages.%s", p.Name, s.Name),
				"needs_sandbox requires sandbox.databases > 0")
		}
	}

	// Dependency and gate references resolve against declared names. Cycles
	// are the stage graph's concern; dangling references are caught here.
	for i := range p.Stages {
		s := &p.Stages[i]
		for _, dep := range s.DependsOn {
			if !stageNames[dep] {
				return derrors.UnknownDependency(p.Name, s.Name, dep)
			}
			if dep == s.Name {
				return derrors.UnknownDependency(p.Name, s.Name, dep).WithContext("reason", "self-reference")
			}
		}
		for _, g := range s.Gates {
			if !gateNames[g] {
				return derrors.ValidationFailed(fmt.Sprintf("pipelines.%s.stages.%s.gates", p.Name, s.Name), fmt.Sprintf("unknown gate %q", g))
			}
		}
	}

	masters := 0
	for i := range p.Stages {
		if p.Stages[i].Master {
			masters++
		}
	}
	if masters > 1 {
		return derrors.ValidationFailed(fmt.Sprintf("pipelines.%s.stages", p.Name), "at most one master aggregation stage per pipeline")
	}

	return nil
}
