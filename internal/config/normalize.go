package config

import (
	"strings"

	"golang.org/x/text/cases"
)

// folder performs Unicode case folding so operator-supplied names compare
// consistently regardless of input casing.
var folder = cases.Fold()

// Normalize canonicalizes case-insensitive configuration values. It runs after
// defaults and before validation so validation sees canonical forms.
func (c *Config) Normalize() {
	for i := range c.Channels {
		ch := &c.Channels[i]
		ch.Type = folder.String(strings.TrimSpace(ch.Type))
		for j, role := range ch.Roles {
			ch.Roles[j] = folder.String(strings.TrimSpace(role))
		}
	}
	for i := range c.Pipelines {
		p := &c.Pipelines[i]
		p.Owner = folder.String(strings.TrimSpace(p.Owner))
		for j := range p.Stages {
			s := &p.Stages[j]
			s.Kind = folder.String(strings.TrimSpace(s.Kind))
		}
		for j := range p.Gates {
			g := &p.Gates[j]
			g.Type = folder.String(strings.TrimSpace(g.Type))
		}
	}
	if c.Executor.RetryBackoff != "" {
		if m := NormalizeRetryBackoff(string(c.Executor.RetryBackoff)); m != "" {
			c.Executor.RetryBackoff = m
		}
	}
}
