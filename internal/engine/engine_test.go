package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/engine"
	"github.com/forgebuild/forge/internal/projectroot"
	"github.com/forgebuild/forge/internal/rule"
)

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, projectroot.MarkerFile), nil, 0o644))
	return root
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func TestBuildExecutesAndCaches(t *testing.T) {
	root := newProject(t)
	src := filepath.Join(root, "main.sh")
	writeScript(t, src, "#!/bin/sh\necho hi\n")
	out := filepath.Join(root, "bin", "app")
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))

	e, err := engine.Open(root, engine.Options{})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.AddRule(rule.Rule{
		Name:    "build",
		Command: "cp",
		Args:    []string{src, out},
		WorkDir: root,
		Inputs:  []string{src},
		Outputs: []string{out},
		Target:  "native",
	}))

	report, err := e.Build(context.Background(), nil, nil)
	require.NoError(t, err)
	require.False(t, report.Failed)
	require.Equal(t, "executed", report.Report.Results["build"].Outcome.String())

	report2, err := e.Build(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, "cache_hit", report2.Report.Results["build"].Outcome.String())
}

func TestAddRuleRejectedAfterGraphBuilt(t *testing.T) {
	root := newProject(t)
	e, err := engine.Open(root, engine.Options{})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.AddRule(rule.Rule{
		Name: "a", Command: "true", WorkDir: root,
	}))
	_, err = e.Build(context.Background(), nil, nil)
	require.NoError(t, err)

	err = e.AddRule(rule.Rule{Name: "b", Command: "true", WorkDir: root})
	require.Error(t, err)
}

func TestCleanRemovesOutDir(t *testing.T) {
	root := newProject(t)
	e, err := engine.Open(root, engine.Options{})
	require.NoError(t, err)
	defer e.Close()

	require.DirExists(t, projectroot.OutDir(root))
	require.NoError(t, e.Clean())
	require.NoDirExists(t, projectroot.OutDir(root))
}

func TestRunExecsSoleSinkBinary(t *testing.T) {
	root := newProject(t)
	out := filepath.Join(root, "native", "app")
	writeScript(t, out, "#!/bin/sh\nexit 0\n")

	e, err := engine.Open(root, engine.Options{})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.AddRule(rule.Rule{
		Name:    "build",
		Command: "true",
		WorkDir: root,
		Outputs: []string{out},
		Target:  "native",
		Component: "app",
	}))

	exit, err := e.Run(context.Background(), "native", "app")
	require.NoError(t, err)
	require.Equal(t, 0, exit.ExitCode)
}
