package rulegen

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/forgebuild/forge/internal/rule"
)

// CCGenerator emits one compile rule per source file and one link rule
// depending on all of them, mirroring the cc prelude's typical shape.
type CCGenerator struct {
	Binary  string
	Sources []string
	Flags   []string
}

func (g CCGenerator) Name() string { return "cc" }

func (g CCGenerator) Generate(workdir string) ([]rule.Rule, error) {
	var rules []rule.Rule
	var objects []string
	var objNames []string

	for _, src := range g.Sources {
		obj := strings.TrimSuffix(src, filepath.Ext(src)) + ".o"
		name := "compile:" + src
		rules = append(rules, rule.Rule{
			Name:    name,
			Command: "cc",
			Args:    append(append([]string{"-c", src, "-o", obj}, g.Flags...)),
			WorkDir: workdir,
			Inputs:  []string{filepath.Join(workdir, src)},
			Outputs: []string{filepath.Join(workdir, obj)},
		})
		objects = append(objects, obj)
		objNames = append(objNames, name)
	}

	rules = append(rules, rule.Rule{
		Name:         "link:" + g.Binary,
		Command:      "cc",
		Args:         append(objects, "-o", g.Binary),
		WorkDir:      workdir,
		Outputs:      []string{filepath.Join(workdir, g.Binary)},
		Dependencies: objNames,
	})
	return rules, nil
}

// CXXGenerator is CCGenerator's C++ counterpart; it only differs in the
// compiler invoked, matching the original's cc/cxx prelude split.
type CXXGenerator struct {
	Binary  string
	Sources []string
	Flags   []string
}

func (g CXXGenerator) Name() string { return "cxx" }

func (g CXXGenerator) Generate(workdir string) ([]rule.Rule, error) {
	cc := CCGenerator{Binary: g.Binary, Sources: g.Sources, Flags: g.Flags}
	rules, err := cc.Generate(workdir)
	for i := range rules {
		rules[i].Command = "c++"
	}
	return rules, err
}

// MakeGenerator wraps a single external `make` invocation as one always-run
// rule, for projects whose build logic already lives in a Makefile.
type MakeGenerator struct {
	Target string
}

func (g MakeGenerator) Name() string { return "make" }

func (g MakeGenerator) Generate(workdir string) ([]rule.Rule, error) {
	if g.Target == "" {
		return nil, fmt.Errorf("make generator: target is required")
	}
	return []rule.Rule{{
		Name:    "make:" + g.Target,
		Command: "make",
		Args:    []string{g.Target},
		WorkDir: workdir,
	}}, nil
}
