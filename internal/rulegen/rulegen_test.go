package rulegen_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/rule"
	"github.com/forgebuild/forge/internal/rulegen"
)

func TestCCGeneratorProducesCompileAndLinkRules(t *testing.T) {
	g := rulegen.CCGenerator{Binary: "app", Sources: []string{"main.c", "util.c"}}
	rules, err := g.Generate("/proj")
	require.NoError(t, err)
	require.Len(t, rules, 3)
	require.Equal(t, "link:app", rules[2].Name)
	require.ElementsMatch(t, []string{"compile:main.c", "compile:util.c"}, rules[2].Dependencies)
}

func TestCCGeneratorIsDeterministic(t *testing.T) {
	g := rulegen.CCGenerator{Binary: "app", Sources: []string{"main.c"}}
	a, err := g.Generate("/proj")
	require.NoError(t, err)
	b, err := g.Generate("/proj")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCXXGeneratorUsesCxxCompiler(t *testing.T) {
	g := rulegen.CXXGenerator{Binary: "app", Sources: []string{"main.cpp"}}
	rules, err := g.Generate("/proj")
	require.NoError(t, err)
	require.Equal(t, "c++", rules[0].Command)
}

func TestMakeGeneratorRequiresTarget(t *testing.T) {
	g := rulegen.MakeGenerator{}
	_, err := g.Generate("/proj")
	require.Error(t, err)
}

func TestMakeGeneratorRuleAlwaysRuns(t *testing.T) {
	g := rulegen.MakeGenerator{Target: "all"}
	rules, err := g.Generate("/proj")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.True(t, rules[0].AlwaysRuns())
}

func TestLoadRegistersAllGeneratedRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), nil, 0o644))

	b := rule.NewBuilder()
	err := rulegen.Load([]rulegen.Generator{
		rulegen.CCGenerator{Binary: "app", Sources: []string{"main.c"}},
	}, dir, b)
	require.NoError(t, err)

	g, err := b.Build()
	require.NoError(t, err)
	require.Len(t, g.Rules(), 2)
}
