// Package graphfile implements rule-graph intake from JSON or YAML
// documents, the one on-disk format feeding the engine's single
// add_rule(Rule) boundary (§6).
//
// Out of scope per spec.md §1 is the embedded configuration-script
// interpreter; this package is the thin, spec-silent substitute for it —
// a declarative document format a prelude or hand-written config can emit,
// validated with the same github.com/go-playground/validator/v10 tags the
// Rule type itself carries.
package graphfile

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/rule"
)

// ruleDoc is the on-disk shape of one rule entry; TimeoutMS is a plain
// integer on disk, converted to a time.Duration-equivalent nanosecond
// count on the in-memory Rule.
type ruleDoc struct {
	Name         string            `json:"name" yaml:"name" validate:"required"`
	Command      string            `json:"command" yaml:"command" validate:"required"`
	Args         []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	EnvKeys      []string          `json:"env_keys,omitempty" yaml:"env_keys,omitempty"`
	WorkDir      string            `json:"workdir" yaml:"workdir" validate:"required"`
	Inputs       []string          `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []string          `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Target       string            `json:"target,omitempty" yaml:"target,omitempty"`
	Component    string            `json:"component,omitempty" yaml:"component,omitempty"`
	TimeoutMS    int64             `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

type document struct {
	Rules []ruleDoc `json:"rules" yaml:"rules"`
}

func (d ruleDoc) toRule() rule.Rule {
	return rule.Rule{
		Name:         d.Name,
		Command:      d.Command,
		Args:         d.Args,
		Env:          d.Env,
		EnvKeys:      d.EnvKeys,
		WorkDir:      d.WorkDir,
		Inputs:       d.Inputs,
		Outputs:      d.Outputs,
		Dependencies: d.Dependencies,
		Target:       d.Target,
		Component:    d.Component,
		Timeout:      int64(time.Duration(d.TimeoutMS) * time.Millisecond),
	}
}

// LoadJSON parses a JSON rule-graph document and registers every rule into
// b via AddRule, returning the first registration error encountered.
func LoadJSON(data []byte, b *rule.Builder) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return forgeerr.New(forgeerr.KindConfig, "", "parsing rule graph JSON: %v", err)
	}
	return addAll(doc, b)
}

// LoadYAML parses a YAML rule-graph document and registers every rule into
// b via AddRule.
func LoadYAML(data []byte, b *rule.Builder) error {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return forgeerr.New(forgeerr.KindConfig, "", "parsing rule graph YAML: %v", err)
	}
	return addAll(doc, b)
}

func addAll(doc document, b *rule.Builder) error {
	for _, d := range doc.Rules {
		if err := b.AddRule(d.toRule()); err != nil {
			return err
		}
	}
	return nil
}
