// Package rulegen defines the seam between the Rule Graph and the
// language-specific rule generators ("preludes") spec.md places out of
// scope as external collaborators.
//
// The original implementation (original_source/src/lua_api/init.rs) loads
// preludes as Lua modules from a project's prelude/ directory, each one
// emitting rules for a language toolchain (cc, cxx, make). This package
// does not re-embed a scripting language; it defines the minimal Go-native
// contract a generator must satisfy to feed rule.Builder.AddRule, and
// ships fake cc/cxx/make generators as fixtures exercising that contract.
package rulegen

import "github.com/forgebuild/forge/internal/rule"

// Generator produces rules for one logical unit of build configuration
// (e.g. one prelude module). Generate must be deterministic: called twice
// with the same workdir, it must return identical rules.
type Generator interface {
	// Name identifies the generator for error reporting.
	Name() string

	// Generate returns the rules this generator contributes, rooted at
	// workdir.
	Generate(workdir string) ([]rule.Rule, error)
}

// Load runs every generator in order and registers its rules into b,
// stopping at the first registration error.
func Load(generators []Generator, workdir string, b *rule.Builder) error {
	for _, g := range generators {
		rules, err := g.Generate(workdir)
		if err != nil {
			return generatorFailed(g.Name(), err)
		}
		for _, r := range rules {
			if err := b.AddRule(r); err != nil {
				return err
			}
		}
	}
	return nil
}
