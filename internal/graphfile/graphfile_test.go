package graphfile_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/graphfile"
	"github.com/forgebuild/forge/internal/rule"
)

const jsonDoc = `{
  "rules": [
    {
      "name": "compile",
      "command": "cc",
      "args": ["-c", "main.c", "-o", "main.o"],
      "workdir": "/proj",
      "inputs": ["/proj/main.c"],
      "outputs": ["/proj/main.o"],
      "timeout_ms": 1500
    },
    {
      "name": "link",
      "command": "cc",
      "args": ["main.o", "-o", "main"],
      "workdir": "/proj",
      "outputs": ["/proj/main"],
      "dependencies": ["compile"]
    }
  ]
}`

const yamlDoc = `
rules:
  - name: compile
    command: cc
    args: ["-c", "main.c", "-o", "main.o"]
    workdir: /proj
    inputs: ["/proj/main.c"]
    outputs: ["/proj/main.o"]
  - name: link
    command: cc
    args: ["main.o", "-o", "main"]
    workdir: /proj
    outputs: ["/proj/main"]
    dependencies: ["compile"]
`

func TestLoadJSONBuildsGraph(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), nil, 0o644))

	b := rule.NewBuilder()
	require.NoError(t, graphfile.LoadJSON([]byte(strings.ReplaceAll(jsonDoc, "/proj", dir)), b))

	g, err := b.Build()
	require.NoError(t, err)

	order := g.TopologicalOrder()
	require.Equal(t, []string{"compile", "link"}, order)

	compile, ok := g.Rule("compile")
	require.True(t, ok)
	require.Equal(t, int64(1500*1_000_000), compile.Timeout)
}

func TestLoadYAMLBuildsGraph(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), nil, 0o644))

	b := rule.NewBuilder()
	require.NoError(t, graphfile.LoadYAML([]byte(strings.ReplaceAll(yamlDoc, "/proj", dir)), b))

	g, err := b.Build()
	require.NoError(t, err)

	order := g.TopologicalOrder()
	require.Equal(t, []string{"compile", "link"}, order)
}

func TestLoadJSONRejectsMalformedDocument(t *testing.T) {
	b := rule.NewBuilder()
	err := graphfile.LoadJSON([]byte(`{not json`), b)
	require.Error(t, err)
}

func TestLoadPropagatesGraphValidationErrors(t *testing.T) {
	b := rule.NewBuilder()
	err := graphfile.LoadJSON([]byte(`{
		"rules": [
			{"name": "a", "command": "cc", "workdir": "/proj", "dependencies": ["missing"]}
		]
	}`), b)
	require.NoError(t, err)

	_, err = b.Build()
	require.Error(t, err)
}
